package protocol

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/ocerrors"
)

// Authenticator augments a request's headers with credentials. All four
// auth variants share this one interface.
type Authenticator interface {
	AuthenticateRequest(ctx context.Context, headers map[string]string) (map[string]string, error)
}

// NoneAuth is the identity authenticator.
type NoneAuth struct{}

func (NoneAuth) AuthenticateRequest(_ context.Context, headers map[string]string) (map[string]string, error) {
	return headers, nil
}

// BasicAuth adds an "Authorization: Basic base64(user:pass)" header using
// credentials looked up from the credential provider by CredentialName.
type BasicAuth struct {
	CredentialName string
	Credentials    model.CredentialProvider
}

func (b BasicAuth) AuthenticateRequest(_ context.Context, headers map[string]string) (map[string]string, error) {
	creds, ok := b.Credentials.Lookup(b.CredentialName)
	if !ok {
		return nil, fmt.Errorf("basic auth: credential %q not found: %w", b.CredentialName, ocerrors.ErrMissingConfiguration)
	}
	user, pass := creds["username"], creds["password"]

	out := cloneHeaders(headers)
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	out["Authorization"] = "Basic " + token
	return out, nil
}

// BearerAuth adds a static "Authorization: Bearer {token}" header.
type BearerAuth struct {
	Token string
}

func (b BearerAuth) AuthenticateRequest(_ context.Context, headers map[string]string) (map[string]string, error) {
	out := cloneHeaders(headers)
	out["Authorization"] = "Bearer " + b.Token
	return out, nil
}

// OAuthAuthenticator exchanges client credentials at a token URL for a
// bearer token, matching the original source's data_fetcher_http_api auth
// module. Token fetch, caching, and refresh-on-expiry are delegated to
// golang.org/x/oauth2/clientcredentials, which already implements the
// client_credentials grant and a reusable oauth2.TokenSource correctly.
type OAuthAuthenticator struct {
	ConfigName   string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	HTTPClient   *http.Client

	mu     sync.Mutex
	source oauth2.TokenSource
}

// tokenSource lazily builds the cached, self-refreshing oauth2.TokenSource
// for this authenticator. clientcredentials.Config.TokenSource already
// wraps oauth2.ReuseTokenSource, so the token is only re-fetched once it
// reports itself expired.
func (o *OAuthAuthenticator) tokenSource(ctx context.Context) oauth2.TokenSource {
	if o.source != nil {
		return o.source
	}

	cfg := &clientcredentials.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		TokenURL:     o.TokenURL,
	}
	if o.Scope != "" {
		cfg.Scopes = []string{o.Scope}
	}

	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	o.source = cfg.TokenSource(ctx)
	return o.source
}

func (o *OAuthAuthenticator) AuthenticateRequest(ctx context.Context, headers map[string]string) (map[string]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	tok, err := o.tokenSource(ctx).Token()
	if err != nil {
		return nil, fmt.Errorf("oauth %q: fetch token: %w", o.ConfigName, ocerrors.ErrConnectionFailed)
	}

	out := cloneHeaders(headers)
	out["Authorization"] = tok.Type() + " " + tok.AccessToken
	return out, nil
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	return out
}
