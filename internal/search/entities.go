package search

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// entitiesToSearch intersects the requested entity types with the non-empty
// ones, keeping the cache's order. An empty request means every non-empty
// entity type.
func (s *Service) entitiesToSearch(ctx context.Context, requested []string) ([]string, error) {
	wanted := make(map[string]struct{}, len(requested))
	for _, name := range requested {
		wanted[strings.ToLower(name)] = struct{}{}
	}

	start := time.Now()
	nonEmpty, err := s.docCounts.NonEmptyEntities(ctx)
	if s.metrics != nil {
		s.metrics.NonEmptyEntitiesLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("listing non-empty entities: %w", err)
	}

	if len(requested) == 0 {
		return append([]string(nil), nonEmpty...), nil
	}
	entities := make([]string, 0, len(nonEmpty))
	for _, name := range nonEmpty {
		if _, ok := wanted[strings.ToLower(name)]; ok {
			entities = append(entities, name)
		}
	}
	return entities, nil
}
