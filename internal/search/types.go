package search

// SearchEntity is a single hit returned by the backend.
type SearchEntity struct {
	Urn           string         `json:"urn"`
	EntityType    string         `json:"entityType"`
	Score         float64        `json:"score,omitempty"`
	MatchedFields []MatchedField `json:"matchedFields,omitempty"`
}

type MatchedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FilterValue describes one selectable facet value.
type FilterValue struct {
	Value      string `json:"value"`
	FacetCount int64  `json:"facetCount"`
	Filtered   bool   `json:"filtered"`
}

// AggregationMetadata is a named facet result.
type AggregationMetadata struct {
	Name         string           `json:"name"`
	DisplayName  string           `json:"displayName,omitempty"`
	Aggregations map[string]int64 `json:"aggregations"`
	FilterValues []FilterValue    `json:"filterValues"`
}

type SearchResultMetadata struct {
	Aggregations []AggregationMetadata `json:"aggregations"`
}

// Aggregation returns the aggregation with the given name, if present.
func (m SearchResultMetadata) Aggregation(name string) (AggregationMetadata, bool) {
	for _, agg := range m.Aggregations {
		if agg.Name == name {
			return agg, true
		}
	}
	return AggregationMetadata{}, false
}

type SearchResult struct {
	Entities    []SearchEntity       `json:"entities"`
	NumEntities int                  `json:"numEntities"`
	From        int                  `json:"from"`
	PageSize    int                  `json:"pageSize"`
	Metadata    SearchResultMetadata `json:"metadata"`
}

// ScrollResult is a page of a cursor-based search. ScrollID is empty when
// there are no further pages.
type ScrollResult struct {
	ScrollID    string               `json:"scrollId,omitempty"`
	Entities    []SearchEntity       `json:"entities"`
	NumEntities int                  `json:"numEntities"`
	PageSize    int                  `json:"pageSize"`
	Metadata    SearchResultMetadata `json:"metadata"`
}

type Condition string

const (
	ConditionEqual     Condition = "EQUAL"
	ConditionContain   Condition = "CONTAIN"
	ConditionStartWith Condition = "START_WITH"
	ConditionExists    Condition = "EXISTS"
)

// Criterion is a single field predicate. Values takes precedence over Value.
type Criterion struct {
	Field     string    `json:"field"`
	Value     string    `json:"value,omitempty"`
	Values    []string  `json:"values,omitempty"`
	Condition Condition `json:"condition,omitempty"`
	Negated   bool      `json:"negated,omitempty"`
}

// AllValues returns Values, or Value as a single-element slice.
func (c Criterion) AllValues() []string {
	if len(c.Values) > 0 {
		return c.Values
	}
	if c.Value == "" {
		return nil
	}
	return []string{c.Value}
}

type ConjunctiveCriterion struct {
	And []Criterion `json:"and"`
}

// Filter is a disjunction of conjunctions applied to hits only, never to
// aggregations.
type Filter struct {
	Or []ConjunctiveCriterion `json:"or"`
}

type SortOrder string

const (
	SortAscending  SortOrder = "ASCENDING"
	SortDescending SortOrder = "DESCENDING"
)

type SortCriterion struct {
	Field string    `json:"field"`
	Order SortOrder `json:"order"`
}

type SearchFlags struct {
	Fulltext         bool `json:"fulltext,omitempty"`
	SkipCache        bool `json:"skipCache,omitempty"`
	SkipHighlighting bool `json:"skipHighlighting,omitempty"`
	MaxAggValues     int  `json:"maxAggValues,omitempty"`
}

// SearchRequest carries a paged search. Facets nil means no facet
// restriction; a non-nil empty slice requests no facets.
type SearchRequest struct {
	Entities []string       `json:"entities"`
	Input    string         `json:"input"`
	Filter   *Filter        `json:"filter,omitempty"`
	Sort     *SortCriterion `json:"sort,omitempty"`
	From     int            `json:"from"`
	Size     int            `json:"size"`
	Flags    *SearchFlags   `json:"flags,omitempty"`
	Facets   []string       `json:"facets"`
}

type ScrollRequest struct {
	Entities  []string       `json:"entities"`
	Input     string         `json:"input"`
	Filter    *Filter        `json:"filter,omitempty"`
	Sort      *SortCriterion `json:"sort,omitempty"`
	ScrollID  string         `json:"scrollId,omitempty"`
	KeepAlive string         `json:"keepAlive,omitempty"`
	Size      int            `json:"size"`
	Flags     *SearchFlags   `json:"flags,omitempty"`
}
