// Package credentials provides the two model.CredentialProvider
// implementations the CLI's --credentials-provider flag selects between.
// Neither talks to a secrets backend directly: both resolve named
// credentials from process environment variables, differing only in the
// naming convention, so a production "aws" deployment injects secrets via
// ECS task definitions or Parameter Store into the same env vars an
// operator would otherwise set by hand.
package credentials

import (
	"os"
	"strings"
)

// environmentProvider looks up "{ENV_PREFIX}_{NAME}_{KEY}" for generic,
// operator-managed environments.
type environmentProvider struct {
	prefix string
}

// NewEnvironmentProvider builds the "environment" credential provider:
// generic env-var-backed lookup under the FETCHER_CREDENTIAL_ prefix.
func NewEnvironmentProvider() *environmentProvider {
	return &environmentProvider{prefix: "FETCHER_CREDENTIAL"}
}

// NewAWSProvider builds the "aws" credential provider: the same env-var
// lookup mechanism, but under the AWS-deployment-style prefix a
// Secrets-Manager-to-env-var injection (e.g. an ECS task definition's
// secrets block) would populate.
func NewAWSProvider() *environmentProvider {
	return &environmentProvider{prefix: "AWS_SECRET_CREDENTIAL"}
}

// Lookup implements model.CredentialProvider: it gathers every
// "{prefix}_{NAME}_{KEY}" env var for the given credential name and
// returns them keyed by lowercased KEY (e.g. "username", "password",
// "client_id", "client_secret").
func (p *environmentProvider) Lookup(name string) (map[string]string, bool) {
	keyPrefix := p.prefix + "_" + envSafe(name) + "_"
	out := make(map[string]string)

	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if !strings.HasPrefix(k, keyPrefix) {
			continue
		}
		suffix := strings.TrimPrefix(k, keyPrefix)
		out[strings.ToLower(suffix)] = v
	}

	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func envSafe(name string) string {
	upper := strings.ToUpper(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
}
