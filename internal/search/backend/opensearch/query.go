package opensearch

import (
	"slices"
	"strings"

	"github.com/spadhi7/datahub/internal/search"
)

const defaultMaxAggValues = 20

type object = map[string]any

func (b *Backend) searchBody(entities []string, input string, filter *search.Filter, sort *search.SortCriterion, flags *search.SearchFlags, facets []string) object {
	body := object{
		"query":            buildQuery(input, flags),
		"track_total_hits": true,
	}
	if pf := b.postFilter(filter); pf != nil {
		body["post_filter"] = pf
	}
	if sort != nil && sort.Field != "" {
		order := "asc"
		if sort.Order == search.SortDescending {
			order = "desc"
		}
		body["sort"] = []any{object{sort.Field: object{"order": order}}, "_score"}
	}
	if aggs := b.aggregationRequests(entities, facets, flags); len(aggs) > 0 {
		body["aggs"] = aggs
	}
	if !isMatchAll(input) && (flags == nil || !flags.SkipHighlighting) {
		body["highlight"] = object{"fields": object{"*": object{}}}
	}
	return body
}

func isMatchAll(input string) bool {
	input = strings.TrimSpace(input)
	return input == "" || input == "*"
}

// buildQuery returns match_all for empty or wildcard input, a
// simple_query_string for full-text searches and a lenient query_string
// otherwise.
func buildQuery(input string, flags *search.SearchFlags) object {
	if isMatchAll(input) {
		return object{"match_all": object{}}
	}
	input = strings.TrimSpace(input)
	if flags != nil && flags.Fulltext {
		return object{"simple_query_string": object{
			"query":            input,
			"default_operator": "and",
		}}
	}
	return object{"query_string": object{
		"query":            input,
		"default_operator": "and",
		"lenient":          true,
	}}
}

// postFilter translates the filter into an OR of ANDs. It is applied as a
// post_filter so that facet counts ignore it.
func (b *Backend) postFilter(filter *search.Filter) object {
	if filter == nil || len(filter.Or) == 0 {
		return nil
	}
	should := make([]any, 0, len(filter.Or))
	for _, conj := range filter.Or {
		var must, mustNot []any
		for _, c := range conj.And {
			clause := b.criterionClause(c)
			if clause == nil {
				continue
			}
			if c.Negated {
				mustNot = append(mustNot, clause)
			} else {
				must = append(must, clause)
			}
		}
		inner := object{}
		if len(must) > 0 {
			inner["filter"] = must
		}
		if len(mustNot) > 0 {
			inner["must_not"] = mustNot
		}
		should = append(should, object{"bool": inner})
	}
	return object{"bool": object{"should": should, "minimum_should_match": 1}}
}

func (b *Backend) criterionClause(c search.Criterion) object {
	field := c.Field
	values := c.AllValues()
	if field == search.IndexVirtualField {
		field = "_index"
		indices := make([]string, len(values))
		for i, v := range values {
			indices[i] = b.indexName(v)
		}
		values = indices
	}

	if c.Condition == search.ConditionExists {
		return object{"exists": object{"field": field}}
	}
	if len(values) == 0 {
		return nil
	}

	switch c.Condition {
	case search.ConditionContain:
		return anyOf(values, func(v string) object {
			return object{"wildcard": object{field: object{"value": "*" + v + "*", "case_insensitive": true}}}
		})
	case search.ConditionStartWith:
		return anyOf(values, func(v string) object {
			return object{"prefix": object{field: object{"value": v}}}
		})
	default:
		return object{"terms": object{field: values}}
	}
}

func anyOf(values []string, clause func(string) object) object {
	if len(values) == 1 {
		return clause(values[0])
	}
	should := make([]any, len(values))
	for i, v := range values {
		should[i] = clause(v)
	}
	return object{"bool": object{"should": should, "minimum_should_match": 1}}
}

// aggregationRequests returns one terms aggregation per requested facet.
// A nil facets slice requests every configured facet field plus the
// virtual entity type facet. Unknown facet names are skipped.
func (b *Backend) aggregationRequests(entities, facets []string, flags *search.SearchFlags) object {
	size := b.cfg.MaxAggValues
	if flags != nil && flags.MaxAggValues > 0 {
		size = flags.MaxAggValues
	}
	if size <= 0 {
		size = defaultMaxAggValues
	}

	names := facets
	if names == nil {
		names = append([]string{search.IndexVirtualField}, b.cfg.FacetFields...)
	}

	aggs := object{}
	for _, name := range names {
		switch {
		case name == search.IndexVirtualField:
			aggs[name] = object{"terms": object{"field": "_index", "size": max(size, len(entities)), "min_doc_count": 0}}
		case slices.Contains(b.cfg.FacetFields, name):
			aggs[name] = object{"terms": object{"field": name, "size": size}}
		default:
			b.logger.Debug("skipping unknown facet", "facet", name)
		}
	}
	return aggs
}
