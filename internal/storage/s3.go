package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/OFFIS-RIT/compass/backend/internal/config"
	"github.com/OFFIS-RIT/compass/backend/internal/util"
	"github.com/OFFIS-RIT/compass/backend/pkg/common"
)

const readAttempts = 3

// ObjectAPI is the part of the S3 client the bucket uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

// Bucket reads and writes objects of one bucket.
type Bucket struct {
	api  ObjectAPI
	name string
}

func NewBucket(api ObjectAPI, name string) *Bucket {
	return &Bucket{api: api, name: name}
}

func (b *Bucket) Name() string { return b.name }

// GetFile downloads key, retrying transient failures.
func (b *Bucket) GetFile(ctx context.Context, key string) ([]byte, error) {
	return util.RetryWithContext(ctx, readAttempts, func(ctx context.Context) ([]byte, error) {
		result, err := b.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.name),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get file from S3: %w", err)
		}
		defer result.Body.Close()

		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, result.Body); err != nil {
			return nil, fmt.Errorf("failed to read file contents: %w", err)
		}
		return buf.Bytes(), nil
	})
}

// PutFile uploads body under key with a content type derived from the key's
// extension.
func (b *Bucket) PutFile(ctx context.Context, key string, body []byte) error {
	mimeType := mime.TypeByExtension(path.Ext(key))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file to S3: %w", err)
	}
	return nil
}

// DeleteFile removes key. Deleting a missing key is not an error.
func (b *Bucket) DeleteFile(ctx context.Context, key string) error {
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}
	return nil
}

// ListFilesWithPrefix returns every key below prefix, following pagination.
func (b *Bucket) ListFilesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := b.api.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return keys, nil
}

// GetReportBundle reads a JSON array of parsed reports.
func (b *Bucket) GetReportBundle(ctx context.Context, key string) ([]common.ReportInput, error) {
	data, err := b.GetFile(ctx, key)
	if err != nil {
		return nil, err
	}
	return DecodeReportBundle(data)
}

// BundleKeys resolves key to the bundle objects it names. A key ending in
// "/" is a prefix and yields every .json object below it in key order.
func (b *Bucket) BundleKeys(ctx context.Context, key string) ([]string, error) {
	if !strings.HasSuffix(key, "/") {
		return []string{key}, nil
	}
	all, err := b.ListFilesWithPrefix(ctx, key)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for _, k := range all {
		if strings.EqualFold(path.Ext(k), ".json") {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no report bundles under s3://%s/%s", b.Name(), key)
	}
	slices.Sort(keys)
	return keys, nil
}

// GetReportBundles reads the bundle or bundle prefix key names and returns
// the reports of all of them with the keys they came from.
func (b *Bucket) GetReportBundles(ctx context.Context, key string) ([]common.ReportInput, []string, error) {
	keys, err := b.BundleKeys(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	var reports []common.ReportInput
	for _, k := range keys {
		batch, err := b.GetReportBundle(ctx, k)
		if err != nil {
			return nil, nil, fmt.Errorf("bundle s3://%s/%s: %w", b.Name(), k, err)
		}
		reports = append(reports, batch...)
	}
	return reports, keys, nil
}

// DeleteFiles removes keys in order and stops at the first failure.
func (b *Bucket) DeleteFiles(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := b.DeleteFile(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// PutJSON stores v as indented JSON.
func (b *Bucket) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return b.PutFile(ctx, key, data)
}

// DecodeReportBundle accepts either a JSON array of reports or a single
// report object.
func DecodeReportBundle(data []byte) ([]common.ReportInput, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty report bundle")
	}
	if trimmed[0] == '{' {
		var one common.ReportInput
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		return []common.ReportInput{one}, nil
	}
	var many []common.ReportInput
	if err := json.Unmarshal(trimmed, &many); err != nil {
		return nil, fmt.Errorf("decode report bundle: %w", err)
	}
	return many, nil
}

// ParseS3URI splits s3://bucket/key. ok is false for anything else.
func ParseS3URI(raw string) (bucket, key string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", false
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", false
	}
	return u.Host, key, true
}
