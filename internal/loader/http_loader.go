package loader

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/protocol"
	"github.com/dataforge/fetcher/internal/storage"
)

// HttpBundleLoader is the HTTP bundle loader: one GET through an
// HttpManager pool, streamed straight into the storage context.
type HttpBundleLoader struct {
	Name     string
	Method   string
	Manager  *protocol.HttpManager
	Config   protocol.HttpProtocolConfig
	Storage  storage.BundleStorage
	Notifier CompletionNotifier
	Logger   logging.Logger
}

// NewHttpBundleLoader builds an HttpBundleLoader; method defaults to GET.
func NewHttpBundleLoader(name string, manager *protocol.HttpManager, cfg protocol.HttpProtocolConfig, store storage.BundleStorage, notifier CompletionNotifier, logger logging.Logger) *HttpBundleLoader {
	return &HttpBundleLoader{Name: name, Method: "GET", Manager: manager, Config: cfg, Storage: store, Notifier: notifier, Logger: newLogger(logger)}
}

// Load fetches req.URL and streams the response body into a freshly
// started bundle. A request-level failure (before any bytes are
// streamed) returns an empty ref list and no bundle is finalized.
func (l *HttpBundleLoader) Load(ctx context.Context, req model.RequestMeta, recipe *model.FetcherRecipe, runCtx *model.FetchRunContext) ([]model.BundleRef, error) {
	method := l.Method
	if method == "" {
		method = "GET"
	}

	resp, err := l.Manager.Do(ctx, l.Config, method, req.URL, req.Headers, nil)
	if err != nil {
		return nil, fmt.Errorf("http loader %q: %s: %w", l.Name, req.URL, err)
	}
	defer resp.Body.Close()

	ref := model.BundleRef{PrimaryURL: req.URL}
	sctx, err := l.Storage.StartBundle(ctx, ref, recipe)
	if err != nil {
		return nil, fmt.Errorf("http loader %q: start bundle for %s: %w", l.Name, req.URL, err)
	}

	status := resp.StatusCode
	resourceName := resourceNameFromURL(req.URL)
	meta := model.ResourceMeta{
		URL:         req.URL,
		Status:      &status,
		ContentType: resp.Header.Get("Content-Type"),
	}

	if err := sctx.AddResource(ctx, resourceName, meta, resp.Body); err != nil {
		return nil, fmt.Errorf("http loader %q: stream %s: %w", l.Name, req.URL, err)
	}

	completed, err := finalize(ctx, sctx, map[string]interface{}{"status": status}, 1, recipe, l.Notifier, l.Logger)
	if err != nil {
		return nil, fmt.Errorf("http loader %q: complete %s: %w", l.Name, req.URL, err)
	}
	runCtx.IncProcessed()
	return []model.BundleRef{completed}, nil
}

// resourceNameFromURL derives a stable resource name from a URL's path
// basename, falling back to "body" for root or empty paths.
func resourceNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "body"
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return "body"
	}
	return strings.TrimPrefix(base, "/")
}
