// Package ranker provides the hit rankers the search service can be
// configured with.
package ranker

import (
	"context"
	"fmt"
	"sort"

	"github.com/spadhi7/datahub/internal/search"
)

const (
	NameSimple   = "simple"
	NameIdentity = "identity"
)

// New returns the ranker registered under name.
func New(name string) (search.Ranker, error) {
	switch name {
	case NameSimple, "":
		return Simple{}, nil
	case NameIdentity:
		return Identity{}, nil
	default:
		return nil, fmt.Errorf("unknown ranker %q", name)
	}
}

// Simple orders hits by backend score, highest first. Equal scores keep the
// backend order.
type Simple struct{}

func (Simple) Rank(_ context.Context, entities []search.SearchEntity) ([]search.SearchEntity, error) {
	ranked := make([]search.SearchEntity, len(entities))
	copy(ranked, entities)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked, nil
}

// Identity keeps the backend order.
type Identity struct{}

func (Identity) Rank(_ context.Context, entities []search.SearchEntity) ([]search.SearchEntity, error) {
	ranked := make([]search.SearchEntity, len(entities))
	copy(ranked, entities)
	return ranked, nil
}
