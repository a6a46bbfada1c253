package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/ocerrors"
)

// defaultChunkSize is the recommended multipart part size (8 MiB).
const defaultChunkSize = 8 << 20

// S3Sink is the object-store sink backing production runs: resources
// stream through aws-sdk-go-v2's multipart manager.Uploader so no
// resource is ever buffered whole in memory, accumulating up to
// chunkSize per part and uploading as soon as it's crossed.
type S3Sink struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	chunkSize int64
	logger    logging.Logger
}

// NewS3Sink builds an S3Sink. client may point at a custom endpoint
// (OC_STORAGE_S3_ENDPOINT_URL) for S3-compatible stores.
func NewS3Sink(client *s3.Client, bucket, prefix string, chunkSize int64, logger logging.Logger) *S3Sink {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = chunkSize
	})
	return &S3Sink{client: client, uploader: uploader, bucket: bucket, prefix: prefix, chunkSize: chunkSize, logger: logger}
}

func (s *S3Sink) BundleFound(_ context.Context, _ map[string]interface{}) (model.BID, error) {
	return model.NewBID(), nil
}

func (s *S3Sink) StartBundle(_ context.Context, ref model.BundleRef, _ *model.FetcherRecipe) (BundleStorageContext, error) {
	if ref.BID.IsZero() {
		ref.BID = model.NewBID()
	}
	return &s3SinkContext{sink: s, ref: ref}, nil
}

func (s *S3Sink) OnRunStart(_ context.Context, _ *model.FetchRunContext) error {
	return nil
}

func (s *S3Sink) objectKey(bid model.BID, name string) string {
	key := objectName(name)
	if s.prefix == "" {
		return fmt.Sprintf("%s/%s", bid, key)
	}
	return fmt.Sprintf("%s/%s/%s", s.prefix, bid, key)
}

type s3SinkContext struct {
	sink *S3Sink
	ref  model.BundleRef

	completionState
	mu      sync.Mutex
	objects []StoredObject
}

func (c *s3SinkContext) Ref() model.BundleRef { return c.ref }

func (c *s3SinkContext) AddResource(ctx context.Context, name string, meta model.ResourceMeta, stream io.Reader) error {
	key := c.sink.objectKey(c.ref.BID, name)

	userMeta := map[string]string{
		"resource_name": name,
		"url":           meta.URL,
		"content_type":  meta.ContentType,
	}
	if meta.Status != nil {
		userMeta["status_code"] = strconv.Itoa(*meta.Status)
	}

	c.sink.logger.Info("S3_UPLOAD_STARTING", logging.Fields{"bucket": c.sink.bucket, "key": key})
	_, err := c.sink.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.sink.bucket),
		Key:         aws.String(key),
		Body:        stream,
		ContentType: aws.String(meta.ContentType),
		Metadata:    userMeta,
	})
	if err != nil {
		c.sink.logger.Error("S3_UPLOAD_FAILED", logging.Fields{"bucket": c.sink.bucket, "key": key, "error": err.Error()})
		return fmt.Errorf("s3 sink: upload %s: %w", key, ocerrors.ErrStorageFailed)
	}

	c.mu.Lock()
	c.objects = append(c.objects, StoredObject{
		Key:          key,
		ResourceName: name,
		URL:          meta.URL,
		ContentType:  meta.ContentType,
		StatusCode:   meta.Status,
	})
	c.mu.Unlock()
	return nil
}

func (c *s3SinkContext) Complete(ctx context.Context, meta map[string]interface{}) error {
	if c.alreadyDone() {
		return nil
	}

	manifest := struct {
		BID            string                 `json:"bid"`
		PrimaryURL     string                 `json:"primary_url"`
		Objects        []StoredObject         `json:"objects"`
		Meta           map[string]interface{} `json:"meta,omitempty"`
		CompletionTime string                 `json:"completion_timestamp"`
	}{
		BID:            string(c.ref.BID),
		PrimaryURL:     c.ref.PrimaryURL,
		Objects:        c.objects,
		Meta:           meta,
		CompletionTime: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("s3 sink: marshal manifest: %w", err)
	}

	manifestKey := fmt.Sprintf("bundles/%s/metadata.json", c.ref.BID)
	if c.sink.prefix != "" {
		manifestKey = c.sink.prefix + "/" + manifestKey
	}
	_, err = c.sink.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.sink.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 sink: put manifest %s: %w", manifestKey, ocerrors.ErrStorageFailed)
	}

	c.markDone()
	return nil
}
