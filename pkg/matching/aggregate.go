package matching

import (
	"sort"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Aggregate collapses matches from multiple strategies into one match per
// entity and orders the result by confidence, highest first. When strategies
// disagree about the same entity the higher confidence wins; on equal
// confidence the method with the better priority wins. The input is not
// modified and aggregation is idempotent.
func Aggregate(matches []models.EntityMatch) []models.EntityMatch {
	if len(matches) == 0 {
		return nil
	}

	best := make(map[string]models.EntityMatch, len(matches))
	order := make([]string, 0, len(matches))

	for _, match := range matches {
		current, seen := best[match.MatchedEntityID]
		if !seen {
			best[match.MatchedEntityID] = match
			order = append(order, match.MatchedEntityID)
			continue
		}
		if betterThan(match, current) {
			best[match.MatchedEntityID] = match
		}
	}

	result := make([]models.EntityMatch, 0, len(best))
	for _, entityID := range order {
		result = append(result, best[entityID])
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].ConfidenceScore != result[j].ConfidenceScore {
			return result[i].ConfidenceScore > result[j].ConfidenceScore
		}
		return result[i].Method.Priority() < result[j].Method.Priority()
	})

	return result
}

func betterThan(a, b models.EntityMatch) bool {
	if a.ConfidenceScore != b.ConfidenceScore {
		return a.ConfidenceScore > b.ConfidenceScore
	}
	return a.Method.Priority() < b.Method.Priority()
}
