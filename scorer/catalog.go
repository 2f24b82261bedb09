package scorer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatalogEntry describes one selectable model.
type CatalogEntry struct {
	Name     string `yaml:"name" json:"name"`
	Display  string `yaml:"display" json:"display"`
	Kind     Kind   `yaml:"kind" json:"kind"`
	Artifact string `yaml:"artifact,omitempty" json:"artifact,omitempty"`
	URL      string `yaml:"url,omitempty" json:"url,omitempty"`
}

// ArtifactName is the artifact file stem, defaulting to the entry name.
func (e CatalogEntry) ArtifactName() string {
	if e.Artifact != "" {
		return e.Artifact
	}
	return e.Name
}

// Catalog lists the models that can be selected.
type Catalog struct {
	Default string         `yaml:"default" json:"default"`
	Models  []CatalogEntry `yaml:"models" json:"models"`
}

// DefaultCatalog is used when no catalog file exists.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Default: string(KindKNN),
		Models: []CatalogEntry{
			{Name: "knn", Display: "K-Nearest Neighbours", Kind: KindKNN},
			{Name: "logistic", Display: "Logistic Regression", Kind: KindLogistic},
		},
	}
}

// LoadCatalog reads a YAML catalog. A missing file yields DefaultCatalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("unable to parse model catalog %s: %w", path, err)
	}
	if err := catalog.validate(); err != nil {
		return nil, fmt.Errorf("invalid model catalog %s: %w", path, err)
	}
	return &catalog, nil
}

func (c *Catalog) validate() error {
	if len(c.Models) == 0 {
		return errors.New("no models listed")
	}
	seen := make(map[string]bool, len(c.Models))
	for i, entry := range c.Models {
		if entry.Name == "" {
			return fmt.Errorf("model %d has no name", i)
		}
		if seen[strings.ToLower(entry.Name)] {
			return fmt.Errorf("model %q listed twice", entry.Name)
		}
		seen[strings.ToLower(entry.Name)] = true

		switch entry.Kind {
		case KindKNN, KindLogistic:
		case KindRemote:
			if entry.URL == "" {
				return fmt.Errorf("remote model %q has no url", entry.Name)
			}
		default:
			return fmt.Errorf("model %q has unknown kind %q", entry.Name, entry.Kind)
		}
	}
	if c.Default != "" {
		if _, ok := c.Lookup(c.Default); !ok {
			return fmt.Errorf("default model %q is not listed", c.Default)
		}
	}
	return nil
}

// Lookup finds an entry by name or display name, case-insensitively.
func (c *Catalog) Lookup(name string) (CatalogEntry, bool) {
	name = strings.TrimSpace(name)
	for _, entry := range c.Models {
		if strings.EqualFold(entry.Name, name) || (entry.Display != "" && strings.EqualFold(entry.Display, name)) {
			return entry, true
		}
	}
	return CatalogEntry{}, false
}
