package loader

import (
	"bufio"
	"context"
	"fmt"
	"path"

	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/protocol"
	"github.com/dataforge/fetcher/internal/storage"
)

// sftpReadChunkSize is the recommended 8 KiB chunked read size.
const sftpReadChunkSize = 8 * 1024

// SftpBundleLoader is the SFTP bundle loader: a streaming read of one
// remote file, bounded to sftpReadChunkSize reads, into the storage
// context.
type SftpBundleLoader struct {
	Name     string
	Manager  *protocol.SftpManager
	Config   protocol.SftpProtocolConfig
	Storage  storage.BundleStorage
	Notifier CompletionNotifier
	Logger   logging.Logger
}

// NewSftpBundleLoader builds an SftpBundleLoader.
func NewSftpBundleLoader(name string, manager *protocol.SftpManager, cfg protocol.SftpProtocolConfig, store storage.BundleStorage, notifier CompletionNotifier, logger logging.Logger) *SftpBundleLoader {
	return &SftpBundleLoader{Name: name, Manager: manager, Config: cfg, Storage: store, Notifier: notifier, Logger: newLogger(logger)}
}

// Load reads req.URL (a remote path) and streams it into a freshly
// started bundle under content_type application/octet-stream.
func (l *SftpBundleLoader) Load(ctx context.Context, req model.RequestMeta, recipe *model.FetcherRecipe, runCtx *model.FetchRunContext) ([]model.BundleRef, error) {
	rc, err := l.Manager.Open(ctx, l.Config, req.URL)
	if err != nil {
		return nil, fmt.Errorf("sftp loader %q: open %s: %w", l.Name, req.URL, err)
	}
	defer rc.Close()

	ref := model.BundleRef{PrimaryURL: req.URL}
	sctx, err := l.Storage.StartBundle(ctx, ref, recipe)
	if err != nil {
		return nil, fmt.Errorf("sftp loader %q: start bundle for %s: %w", l.Name, req.URL, err)
	}

	meta := model.ResourceMeta{URL: req.URL, ContentType: "application/octet-stream"}
	chunked := bufio.NewReaderSize(rc, sftpReadChunkSize)

	if err := sctx.AddResource(ctx, path.Base(req.URL), meta, chunked); err != nil {
		return nil, fmt.Errorf("sftp loader %q: stream %s: %w", l.Name, req.URL, err)
	}

	completed, err := finalize(ctx, sctx, nil, 1, recipe, l.Notifier, l.Logger)
	if err != nil {
		return nil, fmt.Errorf("sftp loader %q: complete %s: %w", l.Name, req.URL, err)
	}
	runCtx.IncProcessed()
	return []model.BundleRef{completed}, nil
}
