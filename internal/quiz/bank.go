package quiz

import (
	"context"
	_ "embed"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed questions.en.yaml
var bankRaw []byte

// Bank is the embedded offline question source, keyed by category.
type Bank struct {
	categories map[string][]Question
}

// NewBank parses the embedded question file. Called once at startup; a
// malformed bank is a build defect and fails loudly.
func NewBank() (*Bank, error) {
	var raw map[string][]Question
	if err := yaml.Unmarshal(bankRaw, &raw); err != nil {
		return nil, err
	}
	cats := make(map[string][]Question, len(raw))
	for name, qs := range raw {
		key := strings.ToLower(strings.TrimSpace(name))
		for i := range qs {
			qs[i].Category = key
		}
		cats[key] = qs
	}
	return &Bank{categories: cats}, nil
}

// Categories lists the available category names, sorted.
func (b *Bank) Categories() []string {
	out := make([]string, 0, len(b.categories))
	for name := range b.categories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Questions returns a copy of the category's pool. An empty category picks
// the default "general" set.
func (b *Bank) Questions(_ context.Context, category string, _ int) ([]Question, error) {
	key := strings.ToLower(strings.TrimSpace(category))
	if key == "" {
		key = "general"
	}
	pool, ok := b.categories[key]
	if !ok {
		return nil, ErrUnknownCategory
	}
	if len(pool) == 0 {
		return nil, ErrNoQuestions
	}
	out := make([]Question, len(pool))
	copy(out, pool)
	return out, nil
}
