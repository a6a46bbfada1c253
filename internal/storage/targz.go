package storage

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"os"
	"strings"

	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/model"
)

var tarGzSuffixes = []string{".tar.gz", ".tgz", ".tar", ".gz"}

var tarGzContentTypes = map[string]bool{
	"application/gzip":             true,
	"application/x-gzip":           true,
	"application/x-tar":            true,
	"application/x-compressed-tar": true,
	"application/tar+gzip":         true,
}

func stripArchiveSuffix(name string) string {
	for _, suf := range tarGzSuffixes {
		if strings.HasSuffix(name, suf) {
			return strings.TrimSuffix(name, suf)
		}
	}
	return name
}

func isTarGzBypass(name, contentType string) bool {
	for _, suf := range tarGzSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return tarGzContentTypes[contentType]
}

// TarGzDecorator sniffs each stream, bypassing (suffix-stripped
// passthrough) when the resource is already archive-flavored per name or
// content type, otherwise teeing the stream into the original
// (suffix-stripped) storage plus an inspection leg that extracts
// tar/gzip members as derived resources.
type TarGzDecorator struct {
	inner  BundleStorage
	logger logging.Logger
}

// NewTarGzDecorator wraps inner with tar/gz decompression and extraction.
func NewTarGzDecorator(inner BundleStorage, logger logging.Logger) *TarGzDecorator {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &TarGzDecorator{inner: inner, logger: logger}
}

func (d *TarGzDecorator) BundleFound(ctx context.Context, metadata map[string]interface{}) (model.BID, error) {
	return d.inner.BundleFound(ctx, metadata)
}

func (d *TarGzDecorator) StartBundle(ctx context.Context, ref model.BundleRef, recipe *model.FetcherRecipe) (BundleStorageContext, error) {
	innerCtx, err := d.inner.StartBundle(ctx, ref, recipe)
	if err != nil {
		return nil, err
	}
	return &tarGzContext{decorator: d, inner: innerCtx}, nil
}

func (d *TarGzDecorator) OnRunStart(ctx context.Context, runCtx *model.FetchRunContext) error {
	return d.inner.OnRunStart(ctx, runCtx)
}

type tarGzContext struct {
	decorator *TarGzDecorator
	inner     BundleStorageContext
}

func (c *tarGzContext) Ref() model.BundleRef { return c.inner.Ref() }

func (c *tarGzContext) Complete(ctx context.Context, meta map[string]interface{}) error {
	return c.inner.Complete(ctx, meta)
}

func (c *tarGzContext) AddResource(ctx context.Context, name string, meta model.ResourceMeta, stream io.Reader) error {
	stripped := stripArchiveSuffix(name)

	if isTarGzBypass(name, meta.ContentType) {
		return c.inner.AddResource(ctx, stripped, meta, stream)
	}

	legs := fanOut(stream, 2)

	storeErrCh := make(chan error, 1)
	go func() {
		storeErrCh <- c.inner.AddResource(ctx, stripped, meta, legs[0])
	}()

	inspectErr := c.extract(ctx, name, stripped, legs[1])
	// Drain whatever inspection left unread so the store leg can finish.
	_, _ = io.Copy(io.Discard, legs[1])
	storeErr := <-storeErrCh

	if storeErr != nil {
		return storeErr
	}
	if inspectErr != nil {
		c.decorator.logger.Debug("tar/gz inspection found nothing extractable", logging.Fields{"resource": name, "detail": inspectErr.Error()})
	}
	return nil
}

// extract inspects r for a gzip and/or tar payload, emitting one derived
// resource per archive member (or one decompressed resource for
// gzip-without-tar). A non-nil return means "nothing further to
// extract", not necessarily a hard failure.
func (c *tarGzContext) extract(ctx context.Context, originalName, stripped string, r io.Reader) error {
	buf := bufio.NewReader(r)
	magic, err := buf.Peek(2)
	isGzip := err == nil && magic[0] == 0x1f && magic[1] == 0x8b

	if isGzip {
		gz, err := gzip.NewReader(buf)
		if err != nil {
			return err
		}
		defer gz.Close()
		return c.extractPossiblyTar(ctx, gz, originalName, stripped)
	}

	return c.extractTarOnly(ctx, buf, originalName, stripped)
}

// extractPossiblyTar spools a decompressed gzip stream to a temp file (a
// seekable handle is needed to retry as tar-only when the first header
// doesn't parse), then extracts members if it is a tar, or stores the
// whole decompressed payload as one derived resource otherwise.
func (c *tarGzContext) extractPossiblyTar(ctx context.Context, decompressed io.Reader, originalName, stripped string) error {
	tmp, err := os.CreateTemp("", "targz-decorator-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, decompressed); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	tr := tar.NewReader(tmp)
	if _, err := tr.Next(); err == nil {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return c.emitTarMembers(ctx, tar.NewReader(tmp), originalName, stripped)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	name := stripped + ".decompressed"
	return c.inner.AddResource(ctx, name, model.ResourceMeta{ContentType: "application/octet-stream", Note: "derived_from=" + originalName}, tmp)
}

// extractTarOnly streams directly off r: unlike extractPossiblyTar it
// never needs to retry under a different interpretation, so there is no
// reason to spool it to a seekable temp file or buffer it in memory
// first. A malformed first header simply surfaces as emitTarMembers's
// first Next() error.
func (c *tarGzContext) extractTarOnly(ctx context.Context, r io.Reader, originalName, stripped string) error {
	return c.emitTarMembers(ctx, tar.NewReader(r), originalName, stripped)
}

func (c *tarGzContext) emitTarMembers(ctx context.Context, tr *tar.Reader, originalName, stripped string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		memberName := stripped + "/" + hdr.Name
		meta := model.ResourceMeta{ContentType: "application/octet-stream", Note: "derived_from=" + originalName}
		if err := c.inner.AddResource(ctx, memberName, meta, tr); err != nil {
			return err
		}
	}
}
