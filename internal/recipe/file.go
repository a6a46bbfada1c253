package recipe

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dataforge/fetcher/internal/ocerrors"
)

// Definition is the declarative, on-disk shape of one recipe: enough to
// identify which locator/loader implementations and parameters an operator
// wants wired together. Resolving a Definition into a model.FetcherRecipe
// (instantiating the named locator/loader types with Params) is left to the
// operator's own factory; only the declaration format itself is in scope
// here.
type Definition struct {
	ID          string                 `yaml:"id"`
	Description string                 `yaml:"description,omitempty"`
	LocatorType string                 `yaml:"locator_type"`
	LoaderType  string                 `yaml:"loader_type"`
	Params      map[string]interface{} `yaml:"params,omitempty"`
}

// manifest is the top-level shape of a recipe definitions file.
type manifest struct {
	Recipes []Definition `yaml:"recipes"`
}

// LoadDefinitionFile decodes a YAML file of recipe definitions from disk.
func LoadDefinitionFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recipe definitions: read %s: %w", path, err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("recipe definitions: decode %s: %w", path, ocerrors.ErrInvalidConfiguration)
	}

	for _, d := range m.Recipes {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("recipe definitions: %s: %w", path, err)
		}
	}
	return m.Recipes, nil
}

// Validate checks a Definition's required fields.
func (d Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("recipe definition: id is required: %w", ocerrors.ErrInvalidConfiguration)
	}
	if d.LocatorType == "" {
		return fmt.Errorf("recipe definition %q: locator_type is required: %w", d.ID, ocerrors.ErrInvalidConfiguration)
	}
	if d.LoaderType == "" {
		return fmt.Errorf("recipe definition %q: loader_type is required: %w", d.ID, ocerrors.ErrInvalidConfiguration)
	}
	return nil
}
