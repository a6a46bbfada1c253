package model

import "testing"

func TestRequestMetaValidate(t *testing.T) {
	cases := []struct {
		name    string
		req     RequestMeta
		wantErr bool
	}{
		{"valid", RequestMeta{URL: "https://example.com", Depth: 0}, false},
		{"empty url", RequestMeta{URL: "", Depth: 0}, true},
		{"negative depth", RequestMeta{URL: "https://example.com", Depth: -1}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.req.Validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestResourceMetaStatusValid(t *testing.T) {
	ok := 200
	bad := 999
	cases := []struct {
		name string
		meta ResourceMeta
		want bool
	}{
		{"nil status", ResourceMeta{}, true},
		{"valid status", ResourceMeta{Status: &ok}, true},
		{"invalid status", ResourceMeta{Status: &bad}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.meta.StatusValid(); got != c.want {
				t.Fatalf("StatusValid() = %v, want %v", got, c.want)
			}
		})
	}
}

type stubLocator struct{ name string }

func (s stubLocator) Name() string { return s.name }

func TestFetcherRecipeValidate(t *testing.T) {
	base := FetcherRecipe{
		RecipeID:       "r1",
		BundleLocators: []BundleLocator{stubLocator{"l1"}},
		BundleLoader:   struct{}{},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid recipe, got %v", err)
	}

	noID := base
	noID.RecipeID = ""
	if err := noID.Validate(); err == nil {
		t.Fatalf("expected error for missing recipe_id")
	}

	noLocators := base
	noLocators.BundleLocators = nil
	if err := noLocators.Validate(); err == nil {
		t.Fatalf("expected error for missing locators")
	}

	noLoader := base
	noLoader.BundleLoader = nil
	if err := noLoader.Validate(); err == nil {
		t.Fatalf("expected error for missing loader")
	}
}

func TestFetchRunContextCounters(t *testing.T) {
	rc := NewFetchRunContext("run-1", AppConfig{})

	const n = 50
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			rc.IncProcessed()
			rc.AddError("boom")
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	if got := rc.ProcessedCount(); got != n {
		t.Fatalf("ProcessedCount() = %d, want %d", got, n)
	}
	if got := len(rc.Errors()); got != n {
		t.Fatalf("len(Errors()) = %d, want %d", got, n)
	}

	errs := rc.Errors()
	errs[0] = "mutated"
	if rc.Errors()[0] == "mutated" {
		t.Fatalf("Errors() must return a copy, not the internal slice")
	}
}
