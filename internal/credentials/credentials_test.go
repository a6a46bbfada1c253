package credentials

import "testing"

func TestEnvironmentProviderLookup(t *testing.T) {
	t.Setenv("FETCHER_CREDENTIAL_MY_SOURCE_USERNAME", "alice")
	t.Setenv("FETCHER_CREDENTIAL_MY_SOURCE_PASSWORD", "s3cr3t")
	t.Setenv("FETCHER_CREDENTIAL_OTHER_SOURCE_USERNAME", "bob")

	p := NewEnvironmentProvider()

	creds, ok := p.Lookup("my-source")
	if !ok {
		t.Fatalf("expected credentials for my-source")
	}
	if creds["username"] != "alice" || creds["password"] != "s3cr3t" {
		t.Fatalf("unexpected creds: %+v", creds)
	}
	if _, present := creds["other_source_username"]; present {
		t.Fatalf("lookup leaked an unrelated credential name: %+v", creds)
	}
}

func TestEnvironmentProviderMissing(t *testing.T) {
	p := NewEnvironmentProvider()
	if _, ok := p.Lookup("definitely-not-configured"); ok {
		t.Fatalf("expected no credentials for an unconfigured name")
	}
}

func TestAWSProviderUsesDistinctPrefix(t *testing.T) {
	t.Setenv("AWS_SECRET_CREDENTIAL_MY_SOURCE_CLIENT_ID", "abc")
	t.Setenv("AWS_SECRET_CREDENTIAL_MY_SOURCE_CLIENT_SECRET", "xyz")

	p := NewAWSProvider()
	creds, ok := p.Lookup("my-source")
	if !ok {
		t.Fatalf("expected credentials for my-source under aws prefix")
	}
	if creds["client_id"] != "abc" || creds["client_secret"] != "xyz" {
		t.Fatalf("unexpected creds: %+v", creds)
	}

	generic := NewEnvironmentProvider()
	if _, ok := generic.Lookup("my-source"); ok {
		t.Fatalf("environment provider must not see aws-prefixed variables")
	}
}

func TestEnvSafeNormalizesName(t *testing.T) {
	if got := envSafe("my-source.v2"); got != "MY_SOURCE_V2" {
		t.Fatalf("envSafe(%q) = %q", "my-source.v2", got)
	}
}
