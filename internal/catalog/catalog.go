// Package catalog holds the immutable tool registry.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/edulab-ai/agent-hub/internal/model"
)

//go:embed tools.json
var defaultTools []byte

// Catalog is a read-only set of tools, resolved at load time.
type Catalog struct {
	tools []model.Tool
	byID  map[string]*model.Tool
}

// Load reads tools from path, or the embedded default set when path is empty.
func Load(path string) (*Catalog, error) {
	data := defaultTools
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read tools file: %w", err)
		}
		data = b
	}

	var tools []model.Tool
	if err := json.Unmarshal(data, &tools); err != nil {
		return nil, fmt.Errorf("failed to parse tools file: %w", err)
	}

	c := &Catalog{
		tools: tools,
		byID:  make(map[string]*model.Tool, len(tools)),
	}
	for i := range c.tools {
		t := &c.tools[i]
		if t.ID == "" {
			return nil, fmt.Errorf("tool at index %d has no id", i)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tool id %q", t.ID)
		}
		// The provider is a property of the tool, decided exactly once here.
		if t.CozeBotID != "" {
			t.Provider = model.ProviderCoze
		} else {
			t.Provider = model.ProviderSession
		}
		c.byID[t.ID] = t
	}
	return c, nil
}

// All returns every tool in catalog order.
func (c *Catalog) All() []model.Tool {
	out := make([]model.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Get returns the tool with the given id, or false.
func (c *Catalog) Get(id string) (model.Tool, bool) {
	t, ok := c.byID[id]
	if !ok {
		return model.Tool{}, false
	}
	return *t, true
}

// Categories returns the distinct categories in first-seen order.
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range c.tools {
		if t.Category != "" && !seen[t.Category] {
			seen[t.Category] = true
			out = append(out, t.Category)
		}
	}
	return out
}

// Filter returns tools matching the category (empty = all) whose title or
// description contains the query, case-insensitively.
func (c *Catalog) Filter(category, query string) []model.Tool {
	query = strings.ToLower(strings.TrimSpace(query))
	var out []model.Tool
	for _, t := range c.tools {
		if category != "" && t.Category != category {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(t.Title), query) &&
			!strings.Contains(strings.ToLower(t.Description), query) {
			continue
		}
		out = append(out, t)
	}
	return out
}
