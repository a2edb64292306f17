// Package catalog loads the dungeon definitions runs are created against.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type Dungeon struct {
	Key                string `yaml:"key"`
	Label              string `yaml:"label"`
	RequiresScreenshot bool   `yaml:"requiresScreenshot"`
	OrganizerPoints    int    `yaml:"organizerPoints"`
}

type file struct {
	Dungeons []Dungeon `yaml:"dungeons"`
}

type Catalog struct {
	order    []string
	dungeons map[string]Dungeon
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded default: %v", err))
	}
	return c
}

// Load reads a catalog from path, or returns Default when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func Parse(raw []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Dungeons) == 0 {
		return nil, errors.New("catalog has no dungeons")
	}

	c := &Catalog{dungeons: make(map[string]Dungeon, len(f.Dungeons))}
	for i, d := range f.Dungeons {
		d.Key = normalizeKey(d.Key)
		d.Label = strings.TrimSpace(d.Label)
		if d.Key == "" {
			return nil, fmt.Errorf("dungeon %d: key is required", i)
		}
		if d.Label == "" {
			d.Label = d.Key
		}
		if d.OrganizerPoints < 0 {
			return nil, fmt.Errorf("dungeon %q: organizerPoints must be >= 0", d.Key)
		}
		if _, dup := c.dungeons[d.Key]; dup {
			return nil, fmt.Errorf("dungeon %q: duplicate key", d.Key)
		}
		c.dungeons[d.Key] = d
		c.order = append(c.order, d.Key)
	}
	return c, nil
}

func (c *Catalog) Lookup(key string) (Dungeon, bool) {
	if c == nil {
		return Dungeon{}, false
	}
	d, ok := c.dungeons[normalizeKey(key)]
	return d, ok
}

func (c *Catalog) RequiresScreenshot(key string) bool {
	d, ok := c.Lookup(key)
	return ok && d.RequiresScreenshot
}

func (c *Catalog) OrganizerPoints(key string) int {
	d, _ := c.Lookup(key)
	return d.OrganizerPoints
}

func (c *Catalog) All() []Dungeon {
	if c == nil {
		return nil
	}
	out := make([]Dungeon, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.dungeons[k])
	}
	return out
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
