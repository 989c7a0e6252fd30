package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObjects struct {
	objects  map[string][]byte
	types    map[string]string
	getFails int
	pageSize int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getFails > 0 {
		f.getFails--
		return nil, errors.New("connection reset")
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("no such key")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeObjects) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := len(keys)
	if f.pageSize > 0 {
		end = min(start+f.pageSize, len(keys))
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func TestGetFileRetries(t *testing.T) {
	api := newFakeObjects()
	api.objects["k"] = []byte("payload")
	api.getFails = 2

	got, err := NewBucket(api, "compass").GetFile(context.Background(), "k")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("expected payload, got %q", got)
	}

	api.getFails = readAttempts
	if _, err := NewBucket(api, "compass").GetFile(context.Background(), "k"); err == nil {
		t.Fatalf("expected error after %d failures", readAttempts)
	}
}

func TestPutJSONAndBundle(t *testing.T) {
	api := newFakeObjects()
	b := NewBucket(api, "compass")
	ctx := context.Background()

	bundle := `[{"company_name": "Acme", "date": "2025-01-01", "body_text": {"Liquidity": "Cash is ample."}}]`
	if err := b.PutFile(ctx, "bundles/acme.json", []byte(bundle)); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if ct := api.types["bundles/acme.json"]; ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}

	reports, err := b.GetReportBundle(ctx, "bundles/acme.json")
	if err != nil {
		t.Fatalf("GetReportBundle: %v", err)
	}
	if len(reports) != 1 || reports[0].CompanyName != "Acme" || reports[0].Body["Liquidity"] != "Cash is ample." {
		t.Fatalf("unexpected reports %+v", reports)
	}

	if err := b.PutJSON(ctx, "exports/out.json", map[string]int{"n": 1}); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
	if !bytes.Contains(api.objects["exports/out.json"], []byte(`"n": 1`)) {
		t.Fatalf("unexpected export %s", api.objects["exports/out.json"])
	}

	if err := b.DeleteFile(ctx, "exports/out.json"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, ok := api.objects["exports/out.json"]; ok {
		t.Fatalf("expected export to be deleted")
	}
}

func TestListFilesWithPrefixPages(t *testing.T) {
	api := newFakeObjects()
	api.pageSize = 2
	for _, k := range []string{"bundles/a.json", "bundles/b.json", "bundles/c.json", "exports/x.json"} {
		api.objects[k] = []byte("[]")
	}
	keys, err := NewBucket(api, "compass").ListFilesWithPrefix(context.Background(), "bundles/")
	if err != nil {
		t.Fatalf("ListFilesWithPrefix: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys over two pages, got %v", keys)
	}
}

func TestGetReportBundlesPrefix(t *testing.T) {
	api := newFakeObjects()
	api.pageSize = 1
	api.objects["bundles/2025/b.json"] = []byte(`{"company_name": "Beta"}`)
	api.objects["bundles/2025/a.json"] = []byte(`[{"company_name": "Acme"}, {"company_name": "Acme"}]`)
	api.objects["bundles/2025/notes.txt"] = []byte("skip me")
	api.objects["bundles/2024/old.json"] = []byte(`{"company_name": "Old"}`)
	b := NewBucket(api, "compass")
	ctx := context.Background()

	reports, keys, err := b.GetReportBundles(ctx, "bundles/2025/")
	if err != nil {
		t.Fatalf("GetReportBundles: %v", err)
	}
	if want := []string{"bundles/2025/a.json", "bundles/2025/b.json"}; !slices.Equal(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	if len(reports) != 3 || reports[0].CompanyName != "Acme" || reports[2].CompanyName != "Beta" {
		t.Fatalf("unexpected reports %+v", reports)
	}

	if err := b.DeleteFiles(ctx, keys); err != nil {
		t.Fatalf("DeleteFiles: %v", err)
	}
	if _, ok := api.objects["bundles/2025/a.json"]; ok {
		t.Fatalf("expected ingested bundle to be deleted")
	}
	if _, ok := api.objects["bundles/2025/notes.txt"]; !ok {
		t.Fatalf("expected unrelated object to stay")
	}
}

func TestGetReportBundlesSingleKey(t *testing.T) {
	api := newFakeObjects()
	api.objects["bundles/acme.json"] = []byte(`{"company_name": "Acme"}`)
	reports, keys, err := NewBucket(api, "compass").GetReportBundles(context.Background(), "bundles/acme.json")
	if err != nil {
		t.Fatalf("GetReportBundles: %v", err)
	}
	if len(keys) != 1 || keys[0] != "bundles/acme.json" || len(reports) != 1 {
		t.Fatalf("unexpected result %v %+v", keys, reports)
	}
}

func TestGetReportBundlesEmptyPrefix(t *testing.T) {
	api := newFakeObjects()
	api.objects["bundles/readme.txt"] = []byte("x")
	_, _, err := NewBucket(api, "compass").GetReportBundles(context.Background(), "bundles/")
	if err == nil || !strings.Contains(err.Error(), "s3://compass/bundles/") {
		t.Fatalf("expected an error naming the prefix, got %v", err)
	}
}

func TestDecodeReportBundle(t *testing.T) {
	one, err := DecodeReportBundle([]byte(` {"company_name": "Beta"} `))
	if err != nil || len(one) != 1 || one[0].CompanyName != "Beta" {
		t.Fatalf("expected single report, got %v %v", one, err)
	}
	if _, err := DecodeReportBundle([]byte("  ")); err == nil {
		t.Fatalf("expected error for empty bundle")
	}
	if _, err := DecodeReportBundle([]byte("[1,2]")); err == nil {
		t.Fatalf("expected error for malformed bundle")
	}
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		in     string
		bucket string
		key    string
		ok     bool
	}{
		{"s3://compass/exports/acme.json", "compass", "exports/acme.json", true},
		{"s3://compass/bundles/2025/", "compass", "bundles/2025/", true},
		{"s3://compass/", "", "", false},
		{"out/acme.json", "", "", false},
		{"https://compass/acme.json", "", "", false},
	}
	for _, tt := range tests {
		bucket, key, ok := ParseS3URI(tt.in)
		if bucket != tt.bucket || key != tt.key || ok != tt.ok {
			t.Fatalf("ParseS3URI(%q) = %q %q %v, want %q %q %v", tt.in, bucket, key, ok, tt.bucket, tt.key, tt.ok)
		}
	}
}
