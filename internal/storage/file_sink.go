package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/ocerrors"
)

// FileSink is the local-disk object-store sink: a drop-in substitute for
// the S3 sink used in development and in the file-storage-backed E1/E5/E6
// test scenarios. Object keys map onto {root}/{prefix}/{bid}/{name}.
type FileSink struct {
	root   string
	prefix string
	logger logging.Logger
}

// NewFileSink builds a FileSink rooted at root, prefixing every key with
// prefix (may be empty).
func NewFileSink(root, prefix string, logger logging.Logger) *FileSink {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &FileSink{root: root, prefix: prefix, logger: logger}
}

func (s *FileSink) BundleFound(_ context.Context, _ map[string]interface{}) (model.BID, error) {
	return model.NewBID(), nil
}

func (s *FileSink) StartBundle(_ context.Context, ref model.BundleRef, _ *model.FetcherRecipe) (BundleStorageContext, error) {
	if ref.BID.IsZero() {
		ref.BID = model.NewBID()
	}
	dir := filepath.Join(s.root, s.prefix, string(ref.BID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file sink: mkdir %s: %w", dir, ocerrors.ErrStorageFailed)
	}
	return &fileSinkContext{sink: s, ref: ref, dir: dir}, nil
}

func (s *FileSink) OnRunStart(_ context.Context, _ *model.FetchRunContext) error {
	return nil
}

type fileSinkContext struct {
	sink *FileSink
	ref  model.BundleRef
	dir  string

	completionState
	mu      sync.Mutex
	objects []StoredObject
}

func (c *fileSinkContext) Ref() model.BundleRef { return c.ref }

// objectName returns the basename to store resource under: the resource
// name itself if it is filesystem-safe, otherwise a content hash of the
// name, matching the sink's "basename-or-hash" key rule.
func objectName(name string) string {
	if name == "" || len(name) > 200 {
		sum := sha256.Sum256([]byte(name))
		return hex.EncodeToString(sum[:])
	}
	for _, r := range name {
		if r == '/' || r == '\\' || r == 0 {
			sum := sha256.Sum256([]byte(name))
			return hex.EncodeToString(sum[:])
		}
	}
	return name
}

func (c *fileSinkContext) AddResource(_ context.Context, name string, meta model.ResourceMeta, stream io.Reader) error {
	key := objectName(name)
	path := filepath.Join(c.dir, key)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("file sink: create %s: %w", path, ocerrors.ErrStorageFailed)
	}
	defer f.Close()

	if _, err := io.Copy(f, stream); err != nil {
		return fmt.Errorf("file sink: write %s: %w", path, ocerrors.ErrStorageFailed)
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

func (c *fileSinkContext) Complete(_ context.Context, meta map[string]interface{}) error {
	if c.alreadyDone() {
		return nil
	}

	manifest := struct {
		BID              string         `json:"bid"`
		PrimaryURL       string         `json:"primary_url"`
		Objects          []StoredObject `json:"objects"`
		Meta             map[string]interface{} `json:"meta,omitempty"`
		CompletionTime   string         `json:"completion_timestamp"`
	}{
		BID:            string(c.ref.BID),
		PrimaryURL:     c.ref.PrimaryURL,
		Objects:        c.objects,
		Meta:           meta,
		CompletionTime: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("file sink: marshal manifest: %w", err)
	}

	metaDir := filepath.Join(c.sink.root, c.sink.prefix, "bundles", string(c.ref.BID))
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return fmt.Errorf("file sink: mkdir %s: %w", metaDir, ocerrors.ErrStorageFailed)
	}
	if err := os.WriteFile(filepath.Join(metaDir, "metadata.json"), data, 0o644); err != nil {
		return fmt.Errorf("file sink: write metadata.json: %w", ocerrors.ErrStorageFailed)
	}

	c.markDone()
	return nil
}
