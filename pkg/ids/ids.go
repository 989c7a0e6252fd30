// Package ids allocates row identifiers for reports, sections and entities.
package ids

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Allocator hands out unique ids. Ids only need to be unique within one
// process and roughly increasing so that recency tie-breaks work.
type Allocator interface {
	NextID() (int64, error)
}

const (
	sequenceBits   = 12
	workerBits     = 5
	datacenterBits = 5

	maxSequence   = 1<<sequenceBits - 1
	maxWorker     = 1<<workerBits - 1
	maxDatacenter = 1<<datacenterBits - 1

	workerShift     = sequenceBits
	datacenterShift = sequenceBits + workerBits
	timestampShift  = sequenceBits + workerBits + datacenterBits
)

// Epoch is the zero point of snowflake timestamps.
var Epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

var ErrClockMovedBackwards = errors.New("clock moved backwards")

// Snowflake builds 64-bit ids from a 41-bit millisecond timestamp, a 5-bit
// datacenter id, a 5-bit worker id and a 12-bit per-millisecond sequence.
type Snowflake struct {
	mu         sync.Mutex
	datacenter int64
	worker     int64
	sequence   int64
	lastMillis int64
	now        func() time.Time
}

// NewSnowflake validates the datacenter and worker ids (0-31 each).
func NewSnowflake(datacenter, worker int64) (*Snowflake, error) {
	if datacenter < 0 || datacenter > maxDatacenter {
		return nil, fmt.Errorf("datacenter id %d out of range 0-%d", datacenter, maxDatacenter)
	}
	if worker < 0 || worker > maxWorker {
		return nil, fmt.Errorf("worker id %d out of range 0-%d", worker, maxWorker)
	}
	return &Snowflake{
		datacenter: datacenter,
		worker:     worker,
		lastMillis: -1,
		now:        time.Now,
	}, nil
}

func (s *Snowflake) millis() int64 {
	return s.now().Sub(Epoch).Milliseconds()
}

func (s *Snowflake) NextID() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.millis()
	if ts < s.lastMillis {
		return 0, fmt.Errorf("%w by %dms", ErrClockMovedBackwards, s.lastMillis-ts)
	}
	if ts == s.lastMillis {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for ts <= s.lastMillis {
				time.Sleep(100 * time.Microsecond)
				ts = s.millis()
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastMillis = ts

	return ts<<timestampShift |
		s.datacenter<<datacenterShift |
		s.worker<<workerShift |
		s.sequence, nil
}

// Decompose splits a snowflake id into its parts.
func Decompose(id int64) (ts time.Time, datacenter, worker, sequence int64) {
	ms := id >> timestampShift
	ts = Epoch.Add(time.Duration(ms) * time.Millisecond)
	datacenter = (id >> datacenterShift) & maxDatacenter
	worker = (id >> workerShift) & maxWorker
	sequence = id & maxSequence
	return ts, datacenter, worker, sequence
}

// Sequence is an in-process counter starting after Start.
type Sequence struct {
	next atomic.Int64
}

func NewSequence(start int64) *Sequence {
	s := &Sequence{}
	s.next.Store(start)
	return s
}

func (s *Sequence) NextID() (int64, error) {
	return s.next.Add(1), nil
}
