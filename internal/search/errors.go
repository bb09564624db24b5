package search

import (
	"fmt"

	apperrors "github.com/spadhi7/datahub/pkg/errors"
)

// RankingError reports a ranker failure. Result holds the unranked backend
// result the ranker was given.
type RankingError struct {
	Result *SearchResult
	Err    error
}

func (e *RankingError) Error() string {
	return fmt.Sprintf("failed to rank %d entities: %v", len(e.Result.Entities), e.Err)
}

func (e *RankingError) Unwrap() []error {
	return []error{apperrors.ErrRankingFailed, e.Err}
}
