package locator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dataforge/fetcher/internal/kvstore"
	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/protocol"
)

// FileSftpBundleLocator watches an explicit list of remote paths and
// mints a BundleRef only for files whose server-side mtime exceeds the
// last-processed mtime recorded under {prefix}:processed_mtime:{path}.
type FileSftpBundleLocator struct {
	name    string
	prefix  string
	store   kvstore.Store
	sftp    *protocol.SftpManager
	sftpCfg protocol.SftpProtocolConfig
	paths   []string
}

// NewFileSftpBundleLocator builds a locator watching the given explicit
// remote paths.
func NewFileSftpBundleLocator(name, prefix string, store kvstore.Store, sftp *protocol.SftpManager, sftpCfg protocol.SftpProtocolConfig, paths []string) *FileSftpBundleLocator {
	cp := make([]string, len(paths))
	copy(cp, paths)
	return &FileSftpBundleLocator{name: name, prefix: prefix, store: store, sftp: sftp, sftpCfg: sftpCfg, paths: cp}
}

func (l *FileSftpBundleLocator) Name() string { return l.name }

func (l *FileSftpBundleLocator) lastProcessedMtime(ctx context.Context, p string) (int64, bool, error) {
	raw, ok, err := l.store.Get(ctx, mtimeKey(l.prefix, p), "")
	if err != nil || !ok {
		return 0, ok, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("file locator %q: decode mtime for %s: %w", l.name, p, err)
	}
	return v, true, nil
}

// GetNextBundleRefs stats each watched path and mints a BundleRef for
// those whose mtime has advanced past the stored marker.
func (l *FileSftpBundleLocator) GetNextBundleRefs(ctx context.Context, _ *model.FetchRunContext, wanted int) ([]model.BundleRef, error) {
	if wanted <= 0 {
		wanted = len(l.paths)
	}

	out := make([]model.BundleRef, 0, wanted)
	for _, p := range l.paths {
		if len(out) >= wanted {
			break
		}

		info, err := l.sftp.Stat(ctx, l.sftpCfg, p)
		if err != nil {
			return nil, fmt.Errorf("file locator %q: stat %s: %w", l.name, p, err)
		}
		mtime := info.ModTime().Unix()

		last, had, err := l.lastProcessedMtime(ctx, p)
		if err != nil {
			return nil, err
		}
		if had && mtime <= last {
			continue
		}

		out = append(out, model.BundleRef{
			BID:        model.NewBID(),
			PrimaryURL: p,
			Meta:       map[string]interface{}{"mtime": mtime},
		})
	}
	return out, nil
}

// HandleBundleProcessed stores the new mtime sentinel under
// {prefix}:processed_mtime:{path}.
func (l *FileSftpBundleLocator) HandleBundleProcessed(ctx context.Context, ref model.BundleRef, _ *model.FetchRunContext) error {
	mtime, _ := ref.Meta["mtime"].(int64)
	return l.store.Put(ctx, mtimeKey(l.prefix, ref.PrimaryURL), strconv.FormatInt(mtime, 10), 0)
}

// HandleBundleError records the failure without advancing the mtime
// sentinel, so the file is retried next run.
func (l *FileSftpBundleLocator) HandleBundleError(ctx context.Context, ref model.BundleRef, err error, _ *model.FetchRunContext) error {
	return l.store.Put(ctx, errorKey(l.prefix, ref.PrimaryURL), err.Error(), ErrorTTL)
}
