package opensearch

import (
	"fmt"
	"sort"

	"github.com/spadhi7/datahub/internal/search"
)

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []hit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]termsAggregation `json:"aggregations"`
}

type hit struct {
	Index  string   `json:"_index"`
	ID     string   `json:"_id"`
	Score  *float64 `json:"_score"`
	Source struct {
		Urn string `json:"urn"`
	} `json:"_source"`
	Highlight map[string][]string `json:"highlight"`
}

type termsAggregation struct {
	Buckets []struct {
		Key         any    `json:"key"`
		KeyAsString string `json:"key_as_string"`
		DocCount    int64  `json:"doc_count"`
	} `json:"buckets"`
}

func (b *Backend) entities(hits []hit) []search.SearchEntity {
	out := make([]search.SearchEntity, 0, len(hits))
	for _, h := range hits {
		urn := h.Source.Urn
		if urn == "" {
			urn = h.ID
		}
		entity := search.SearchEntity{
			Urn:        urn,
			EntityType: b.entityFromIndex(h.Index),
		}
		if h.Score != nil {
			entity.Score = *h.Score
		}
		entity.MatchedFields = matchedFields(h.Highlight)
		out = append(out, entity)
	}
	return out
}

func matchedFields(highlight map[string][]string) []search.MatchedField {
	if len(highlight) == 0 {
		return nil
	}
	names := make([]string, 0, len(highlight))
	for name := range highlight {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []search.MatchedField
	for _, name := range names {
		for _, fragment := range highlight[name] {
			out = append(out, search.MatchedField{Name: name, Value: fragment})
		}
	}
	return out
}

// aggregations converts the response aggregations into metadata, in the
// order the facets were first requested. The virtual entity type facet is
// keyed by entity type rather than index name and reports every searched
// entity type, with zero for those that had no hits.
func (b *Backend) aggregations(raw map[string]termsAggregation, entities, facets []string, filter *search.Filter) []search.AggregationMetadata {
	names := facets
	if names == nil {
		names = append([]string{search.IndexVirtualField}, b.cfg.FacetFields...)
	}

	out := make([]search.AggregationMetadata, 0, len(raw))
	emitted := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := emitted[name]; dup {
			continue
		}
		agg, ok := raw[name]
		if !ok {
			continue
		}
		emitted[name] = struct{}{}
		counts := make(map[string]int64, len(agg.Buckets))
		if name == search.IndexVirtualField {
			for _, e := range entities {
				counts[b.entityFromIndex(b.indexName(e))] = 0
			}
		}
		for _, bucket := range agg.Buckets {
			key := bucket.KeyAsString
			if key == "" {
				key = fmt.Sprint(bucket.Key)
			}
			if name == search.IndexVirtualField {
				key = b.entityFromIndex(key)
			}
			counts[key] += bucket.DocCount
		}

		displayName := name
		if name == search.IndexVirtualField {
			displayName = search.LegacyEntityDisplayName
		}
		out = append(out, search.AggregationMetadata{
			Name:         name,
			DisplayName:  displayName,
			Aggregations: counts,
			FilterValues: search.ConvertToFilters(counts, filteredValues(filter, name)),
		})
	}
	return out
}

// filteredValues collects the values a non-negated criterion on field
// selects anywhere in the filter.
func filteredValues(filter *search.Filter, field string) map[string]struct{} {
	if filter == nil {
		return nil
	}
	selected := make(map[string]struct{})
	for _, conj := range filter.Or {
		for _, c := range conj.And {
			if c.Field != field || c.Negated {
				continue
			}
			for _, v := range c.AllValues() {
				selected[v] = struct{}{}
			}
		}
	}
	return selected
}
