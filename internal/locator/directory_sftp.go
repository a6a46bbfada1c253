package locator

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/dataforge/fetcher/internal/kvstore"
	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/protocol"
)

// SftpFileFilter decides whether a directory entry is eligible for
// locating, beyond the glob match.
type SftpFileFilter interface {
	Accept(info fs.FileInfo) bool
}

// AcceptAllFilter is the identity filter.
type AcceptAllFilter struct{}

func (AcceptAllFilter) Accept(fs.FileInfo) bool { return true }

// SftpFileSort orders a batch of directory entries before they're
// emitted. Zero mtimes sort last under both directions.
type SftpFileSort interface {
	Sort(infos []fs.FileInfo)
}

// MtimeSort orders entries by modification time, ascending or descending.
type MtimeSort struct {
	Descending bool
}

func (s MtimeSort) Sort(infos []fs.FileInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		ti, tj := infos[i].ModTime(), infos[j].ModTime()
		iZero, jZero := ti.IsZero(), tj.IsZero()
		if iZero != jZero {
			return jZero // a zero mtime always sorts after a non-zero one
		}
		if s.Descending {
			return ti.After(tj)
		}
		return ti.Before(tj)
	})
}

// DirectorySftpBundleLocator lists a remote directory, applies a glob and
// optional filter, sorts the remaining entries, and mints a BundleRef per
// file not already marked processed.
type DirectorySftpBundleLocator struct {
	name       string
	prefix     string
	store      kvstore.Store
	sftp       *protocol.SftpManager
	sftpCfg    protocol.SftpProtocolConfig
	dir        string
	glob       string
	filter     SftpFileFilter
	sort       SftpFileSort
}

// NewDirectorySftpBundleLocator builds a locator over dir on the SFTP
// pool named by sftpCfg, matching files by glob (case-sensitive) and the
// given filter/sort strategies.
func NewDirectorySftpBundleLocator(name, prefix string, store kvstore.Store, sftp *protocol.SftpManager, sftpCfg protocol.SftpProtocolConfig, dir, glob string, filter SftpFileFilter, sortStrategy SftpFileSort) *DirectorySftpBundleLocator {
	if filter == nil {
		filter = AcceptAllFilter{}
	}
	if sortStrategy == nil {
		sortStrategy = MtimeSort{}
	}
	return &DirectorySftpBundleLocator{
		name: name, prefix: prefix, store: store,
		sftp: sftp, sftpCfg: sftpCfg,
		dir: dir, glob: glob, filter: filter, sort: sortStrategy,
	}
}

func (l *DirectorySftpBundleLocator) Name() string { return l.name }

// GetNextBundleRefs lists l.dir, excludes "." and "..", applies the glob
// and filter, sorts the survivors, and mints a BundleRef for each entry
// not yet marked processed, up to wanted.
func (l *DirectorySftpBundleLocator) GetNextBundleRefs(ctx context.Context, _ *model.FetchRunContext, wanted int) ([]model.BundleRef, error) {
	if wanted <= 0 {
		wanted = 1
	}

	entries, err := l.sftp.Listdir(ctx, l.sftpCfg, l.dir)
	if err != nil {
		return nil, fmt.Errorf("directory locator %q: listdir %s: %w", l.name, l.dir, err)
	}

	candidates := make([]fs.FileInfo, 0, len(entries))
	for _, info := range entries {
		name := info.Name()
		if name == "." || name == ".." {
			continue
		}
		matched, err := path.Match(l.glob, name)
		if err != nil {
			return nil, fmt.Errorf("directory locator %q: bad glob %q: %w", l.name, l.glob, err)
		}
		if !matched || !l.filter.Accept(info) {
			continue
		}
		candidates = append(candidates, info)
	}
	l.sort.Sort(candidates)

	out := make([]model.BundleRef, 0, wanted)
	for _, info := range candidates {
		if len(out) >= wanted {
			break
		}
		fullPath := path.Join(l.dir, info.Name())
		done, err := isProcessed(ctx, l.store, l.prefix, fullPath)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		out = append(out, model.BundleRef{
			BID:        model.NewBID(),
			PrimaryURL: fullPath,
			Meta:       map[string]interface{}{"mtime": info.ModTime().Format(time.RFC3339)},
		})
	}
	return out, nil
}

// HandleBundleProcessed marks the file as processed.
func (l *DirectorySftpBundleLocator) HandleBundleProcessed(ctx context.Context, ref model.BundleRef, _ *model.FetchRunContext) error {
	return markProcessed(ctx, l.store, l.prefix, ref.PrimaryURL)
}

// HandleBundleError writes an error record with retry-count 0; the file
// is left unprocessed so it is retried next run.
func (l *DirectorySftpBundleLocator) HandleBundleError(ctx context.Context, ref model.BundleRef, err error, _ *model.FetchRunContext) error {
	return l.store.Put(ctx, errorKey(l.prefix, ref.PrimaryURL), fmt.Sprintf("retry_count=0 err=%s", err.Error()), ErrorTTL)
}
