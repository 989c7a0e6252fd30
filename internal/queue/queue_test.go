package queue

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/compass/backend/pkg/ai"
	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/ids"
	"github.com/OFFIS-RIT/compass/backend/pkg/pipeline"
	"github.com/OFFIS-RIT/compass/backend/pkg/store/sqlite"
)

type fakeDeclarer struct {
	declared map[string]amqp091.Table
}

func (f *fakeDeclarer) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	if f.declared == nil {
		f.declared = map[string]amqp091.Table{}
	}
	f.declared[name] = args
	return amqp091.Queue{Name: name}, nil
}

type published struct {
	key string
	msg amqp091.Publishing
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{key: key, msg: msg})
	return nil
}

type fakeAck struct {
	acks  int
	nacks int
	done  chan struct{}
}

func (f *fakeAck) Ack(uint64, bool) error {
	f.acks++
	if f.done != nil {
		f.done <- struct{}{}
	}
	return nil
}

func (f *fakeAck) Nack(uint64, bool, bool) error {
	f.nacks++
	return nil
}

func (f *fakeAck) Reject(uint64, bool) error { return nil }

type fakeBundles struct {
	bundles   map[string][]common.ReportInput
	deleted   []string
	deleteErr error
}

func (f *fakeBundles) GetReportBundles(_ context.Context, key string) ([]common.ReportInput, []string, error) {
	var keys []string
	if strings.HasSuffix(key, "/") {
		for k := range f.bundles {
			if strings.HasPrefix(k, key) {
				keys = append(keys, k)
			}
		}
		slices.Sort(keys)
	} else if _, ok := f.bundles[key]; ok {
		keys = []string{key}
	}
	if len(keys) == 0 {
		return nil, nil, errors.New("no such bundle")
	}
	var reports []common.ReportInput
	for _, k := range keys {
		reports = append(reports, f.bundles[k]...)
	}
	return reports, keys, nil
}

func (f *fakeBundles) DeleteFiles(_ context.Context, keys []string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, keys...)
	return nil
}

type fakeMetrics struct{ resets int }

func (f *fakeMetrics) GetMetrics() ai.ModelMetrics {
	return ai.ModelMetrics{TotalTokens: 10, DurationMs: 1500}
}
func (f *fakeMetrics) ResetMetrics() { f.resets++ }

func newTestHandler(t *testing.T) (*Handler, *sqlite.SQLiteStorage) {
	t.Helper()
	st, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p := pipeline.New(st, nil, ids.NewSequence(0), pipeline.DefaultConfig())
	bundles := &fakeBundles{bundles: map[string][]common.ReportInput{
		"bundles/acme.json": {{
			CompanyName: "Acme",
			Date:        "2025-03-01",
			Body:        map[string]string{"Liquidity": "Cash and cash equivalents were $2 billion at year end."},
		}},
	}}
	return NewHandler(p, bundles), st
}

func jobBody(t *testing.T, msg JobMsg) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestSetupQueues(t *testing.T) {
	d := &fakeDeclarer{}
	require.NoError(t, SetupQueues(d, Queues))
	assert.Len(t, d.declared, 12)

	args := d.declared["extract_queue_retry"]
	require.NotNil(t, args)
	assert.Equal(t, int32(10000), args["x-message-ttl"])
	assert.Equal(t, "extract_queue", args["x-dead-letter-routing-key"])
	assert.Nil(t, d.declared["extract_queue_dlq"])
}

func TestSubmit(t *testing.T) {
	pub := &fakePublisher{}
	id, err := Submit(context.Background(), pub, JobMsg{Kind: JobExtract, Sections: []string{"Liquidity"}})
	require.NoError(t, err)
	assert.Len(t, id, 21)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, ExtractQueue, pub.sent[0].key)
	assert.Equal(t, amqp091.Persistent, pub.sent[0].msg.DeliveryMode)

	var got JobMsg
	require.NoError(t, json.Unmarshal(pub.sent[0].msg.Body, &got))
	assert.Equal(t, id, got.JobID)
	assert.Equal(t, []string{"Liquidity"}, got.Sections)

	_, err = Submit(context.Background(), pub, JobMsg{Kind: "index"})
	assert.Error(t, err)
}

func TestRetryOrDeadLetter(t *testing.T) {
	ctx := context.Background()

	pub := &fakePublisher{}
	ack := &fakeAck{}
	RetryOrDeadLetter(ctx, pub, amqp091.Delivery{Acknowledger: ack, Body: []byte("{}")}, RelateQueue)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "relate_queue_retry", pub.sent[0].key)
	assert.Equal(t, int32(1), pub.sent[0].msg.Headers["x-retries"])
	assert.Equal(t, 1, ack.acks)

	pub = &fakePublisher{}
	ack = &fakeAck{}
	msg := amqp091.Delivery{Acknowledger: ack, Headers: amqp091.Table{"x-retries": int32(MaxRetries)}}
	RetryOrDeadLetter(ctx, pub, msg, RelateQueue)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "relate_queue_dlq", pub.sent[0].key)
	assert.Equal(t, 1, ack.acks)

	pub = &fakePublisher{err: errors.New("channel closed")}
	ack = &fakeAck{}
	RetryOrDeadLetter(ctx, pub, amqp091.Delivery{Acknowledger: ack}, RelateQueue)
	assert.Equal(t, 0, ack.acks)
	assert.Equal(t, 1, ack.nacks)
}

func TestHandlerRunsJobs(t *testing.T) {
	h, st := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, IngestQueue, jobBody(t, JobMsg{Kind: JobIngest, Agency: "Fitch", BundleKey: "bundles/acme.json"})))
	require.NoError(t, h.Handle(ctx, ExtractQueue, jobBody(t, JobMsg{Kind: JobExtract, Source: SourceRules, Sections: []string{"Liquidity"}})))
	require.NoError(t, h.Handle(ctx, RelateQueue, jobBody(t, JobMsg{Kind: JobRelate, Sections: []string{"Liquidity"}})))
	require.NoError(t, h.Handle(ctx, RepairQueue, jobBody(t, JobMsg{Kind: JobRepair})))

	rows, err := st.Sections(ctx, []string{"liquidity"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	ents, err := st.EntitiesBySections(ctx, []int64{rows[0].SectionID})
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, "cash_balance", ents[0].Name)
}

func TestHandlerIngestsBundlePrefix(t *testing.T) {
	st, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	report := func(company string) common.ReportInput {
		return common.ReportInput{
			CompanyName: company,
			Date:        "2025-03-01",
			Body:        map[string]string{"Liquidity": "Cash was ample."},
		}
	}
	bundles := &fakeBundles{bundles: map[string][]common.ReportInput{
		"bundles/2025/acme.json": {report("Acme")},
		"bundles/2025/beta.json": {report("Beta"), report("Beta")},
		"bundles/2024/old.json":  {report("Old")},
	}}
	h := NewHandler(pipeline.New(st, nil, ids.NewSequence(0), pipeline.DefaultConfig()), bundles)

	require.NoError(t, h.Handle(ctx, IngestQueue, jobBody(t, JobMsg{
		Kind: JobIngest, Agency: "Fitch", BundleKey: "bundles/2025/", DeleteAfter: true,
	})))
	rows, err := st.Sections(ctx, []string{"liquidity"})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, []string{"bundles/2025/acme.json", "bundles/2025/beta.json"}, bundles.deleted)

	// bundles stay without the flag
	bundles.deleted = nil
	require.NoError(t, h.Handle(ctx, IngestQueue, jobBody(t, JobMsg{Kind: JobIngest, Agency: "Fitch", BundleKey: "bundles/2024/old.json"})))
	assert.Empty(t, bundles.deleted)
}

func TestHandlerIngestSurvivesDeleteFailure(t *testing.T) {
	h, st := newTestHandler(t)
	h.bundles.(*fakeBundles).deleteErr = errors.New("access denied")
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, IngestQueue, jobBody(t, JobMsg{
		Kind: JobIngest, Agency: "Fitch", BundleKey: "bundles/acme.json", DeleteAfter: true,
	})))
	rows, err := st.Sections(ctx, []string{"liquidity"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestHandlerErrors(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	assert.Error(t, h.Handle(ctx, IngestQueue, []byte("not json")))
	assert.Error(t, h.Handle(ctx, "index_queue", []byte("{}")))
	assert.Error(t, h.Handle(ctx, IngestQueue, jobBody(t, JobMsg{Agency: "Fitch", BundleKey: "missing"})))
	assert.ErrorIs(t, h.Handle(ctx, ExtractQueue, []byte("{}")), pipeline.ErrNoExtractor)
	assert.Error(t, h.Handle(ctx, ExtractQueue, jobBody(t, JobMsg{Source: "magic"})))

	noBundles := NewHandler(h.pipeline, nil)
	assert.ErrorIs(t, noBundles.Handle(ctx, IngestQueue, []byte("{}")), ErrNoBundleStore)
}

func TestWorkerProcessRetriesFailures(t *testing.T) {
	h, _ := newTestHandler(t)
	pub := &fakePublisher{}
	metrics := &fakeMetrics{}
	w := NewWorker(h, pub, metrics)

	ack := &fakeAck{}
	w.process(context.Background(), queuedMessage{
		msg:       amqp091.Delivery{Acknowledger: ack, Body: []byte("{}")},
		queueName: ExtractQueue,
	})
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "extract_queue_retry", pub.sent[0].key)
	assert.Equal(t, 1, metrics.resets)
}

type fakeConsumer struct {
	chans map[string]chan amqp091.Delivery
}

func (f *fakeConsumer) Consume(queue, _ string, _, _, _, _ bool, _ amqp091.Table) (<-chan amqp091.Delivery, error) {
	ch, ok := f.chans[queue]
	if !ok {
		return nil, errors.New("queue not declared")
	}
	return ch, nil
}

func TestWorkerRun(t *testing.T) {
	h, _ := newTestHandler(t)
	w := NewWorker(h, &fakePublisher{}, nil)
	consumer := &fakeConsumer{chans: map[string]chan amqp091.Delivery{RepairQueue: make(chan amqp091.Delivery, 1)}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx, consumer, []string{RepairQueue}) }()

	ack := &fakeAck{done: make(chan struct{}, 1)}
	consumer.chans[RepairQueue] <- amqp091.Delivery{Acknowledger: ack, Body: jobBody(t, JobMsg{Kind: JobRepair})}

	select {
	case <-ack.done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not acked")
	}
	cancel()
	require.NoError(t, <-errc)

	err := w.Run(context.Background(), consumer, []string{"unknown_queue"})
	assert.Error(t, err)
}

type fakeLocker struct {
	keys []string
	err  error
}

func (f *fakeLocker) WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return f.err
	}
	return fn(ctx)
}

func TestHandlerHoldsPipelineLock(t *testing.T) {
	h, _ := newTestHandler(t)
	locker := &fakeLocker{}
	h.WithLocker(locker)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, RepairQueue, jobBody(t, JobMsg{Kind: JobRepair})))
	assert.Equal(t, []string{PipelineLockKey}, locker.keys)

	locker.err = errors.New("lease lock busy")
	assert.ErrorIs(t, h.Handle(ctx, RepairQueue, jobBody(t, JobMsg{Kind: JobRepair})), locker.err)
}
