package search

import "context"

// DocCountCache is a read-only snapshot of indexed documents per entity type.
// Keys are lowercase entity type names.
type DocCountCache interface {
	EntityDocCount(ctx context.Context) (map[string]int64, error)
	// NonEmptyEntities lists entity types with a strictly positive count.
	NonEmptyEntities(ctx context.Context) ([]string, error)
}

// Backend executes searches over an already resolved list of entity types.
// The request's Entities field is never empty when called by Service.
type Backend interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
	Scroll(ctx context.Context, req ScrollRequest) (*ScrollResult, error)
}

// Ranker reorders hits. Implementations must return a permutation of the
// input.
type Ranker interface {
	Rank(ctx context.Context, entities []SearchEntity) ([]SearchEntity, error)
}
