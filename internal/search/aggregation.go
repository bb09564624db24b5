package search

import (
	"maps"
	"slices"
	"sort"
)

const (
	// LegacyEntityFacet is the deprecated facet name older clients request
	// to get per-entity-type counts.
	LegacyEntityFacet = "entity"
	// LegacyEntityDisplayName is the display name of the LegacyEntityFacet aggregation.
	LegacyEntityDisplayName = "Type"
	// IndexVirtualField is the facet under which the backend reports true
	// per-entity-type hit counts.
	IndexVirtualField = "_entityType"
)

// withVirtualIndexFacet returns a new facet list with IndexVirtualField
// appended. The input slice is never modified.
func withVirtualIndexFacet(facets []string) []string {
	out := make([]string, 0, len(facets)+1)
	out = append(out, facets...)
	return append(out, IndexVirtualField)
}

// needsLegacyEntityAggregation reports whether the caller's original facet
// list asks for the "entity" aggregation. A nil list means no restriction.
func needsLegacyEntityAggregation(facets []string) bool {
	return facets == nil ||
		slices.Contains(facets, LegacyEntityFacet) ||
		slices.Contains(facets, IndexVirtualField)
}

// legacyEntityAggregation builds the "entity" aggregation from the backend's
// IndexVirtualField aggregation. When that aggregation is missing, counts are
// rebuilt from the returned page of hits only, so entity types without hits
// on this page are absent and the totals undercount.
func legacyEntityAggregation(result *SearchResult) AggregationMetadata {
	var counts map[string]int64
	if agg, ok := result.Metadata.Aggregation(IndexVirtualField); ok {
		counts = maps.Clone(agg.Aggregations)
	} else {
		counts = countByEntityType(result.Entities)
	}
	if counts == nil {
		counts = make(map[string]int64)
	}
	return AggregationMetadata{
		Name:         LegacyEntityFacet,
		DisplayName:  LegacyEntityDisplayName,
		Aggregations: counts,
		FilterValues: ConvertToFilters(counts, nil),
	}
}

func countByEntityType(entities []SearchEntity) map[string]int64 {
	counts := make(map[string]int64)
	for _, e := range entities {
		counts[e.EntityType]++
	}
	return counts
}

// ConvertToFilters turns facet counts into filter values, highest count
// first and ties broken by value. Values present in filtered are marked.
func ConvertToFilters(aggregations map[string]int64, filtered map[string]struct{}) []FilterValue {
	values := make([]FilterValue, 0, len(aggregations))
	for value, count := range aggregations {
		_, isFiltered := filtered[value]
		values = append(values, FilterValue{
			Value:      value,
			FacetCount: count,
			Filtered:   isFiltered,
		})
	}
	sort.Slice(values, func(i, j int) bool {
		if values[i].FacetCount != values[j].FacetCount {
			return values[i].FacetCount > values[j].FacetCount
		}
		return values[i].Value < values[j].Value
	})
	return values
}
