package ranking

import (
	"cmp"
	"fmt"
	"slices"
)

// RepeatMode selects which repeat-rate definition feeds the repeat component.
type RepeatMode string

const (
	// RepeatModeFunnel uses RepeatFunnel. This is the canonical definition.
	RepeatModeFunnel RepeatMode = "funnel"
	// RepeatModeLegacy uses RepeatLegacy, the booking-surplus approximation.
	RepeatModeLegacy RepeatMode = "legacy"
)

// ParseRepeatMode parses a configured repeat mode. Empty means funnel.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch RepeatMode(s) {
	case "", RepeatModeFunnel:
		return RepeatModeFunnel, nil
	case RepeatModeLegacy:
		return RepeatModeLegacy, nil
	default:
		return "", fmt.Errorf("unknown repeat mode %q (want %q or %q)", s, RepeatModeFunnel, RepeatModeLegacy)
	}
}

// ComponentScores holds the nine normalized component values of one guide.
type ComponentScores struct {
	Repeat      float64 `json:"repeat"`
	AOV         float64 `json:"aov"`
	Volume      float64 `json:"volume"`
	Activity    float64 `json:"activity"`
	Rating      float64 `json:"rating"`
	Response    float64 `json:"response"`
	Consistency float64 `json:"consistency"`
	Reliability float64 `json:"reliability"`
	Experience  float64 `json:"experience"`
}

// RankingResult is the scored output for one guide, carrying the source
// aggregate for audit.
type RankingResult struct {
	GuideID            int64           `json:"guide_id"`
	Score              float64         `json:"ranking_score"`
	ActivityMultiplier float64         `json:"activity_multiplier"`
	Combined           float64         `json:"combined"`
	Components         ComponentScores `json:"components"`
	Aggregate          GuideAggregate  `json:"aggregate"`
}

// Options configures Score. The zero value uses default weights and the funnel
// repeat definition.
type Options struct {
	Weights    *Weights
	RepeatMode RepeatMode
}

// Components computes all nine component scores for an aggregate.
func Components(agg GuideAggregate, mode RepeatMode) ComponentScores {
	repeat := RepeatFunnel(agg.RepeatCustomers, agg.TotalCustomers)
	if mode == RepeatModeLegacy {
		repeat = RepeatLegacy(agg.TotalBookings, agg.UniqueCustomers)
	}

	return ComponentScores{
		Repeat:      repeat,
		AOV:         AOVScore(agg.AvgOrderValue),
		Volume:      VolumeScore(agg.CompletedConsultations),
		Activity:    ActivityScore(agg.DaysActive30d),
		Rating:      RatingScore(agg.ReviewCount, agg.AvgRating),
		Response:    ResponseScore(agg.AvgResponseSeconds),
		Consistency: ConsistencyScore(agg.ReviewCount, agg.CompletedConsultations),
		Reliability: ReliabilityScore(agg.CancelledCount, agg.TotalConsidered),
		Experience:  ExperienceScore(agg.MonthsOnPlatform),
	}
}

// Score computes the final ranking result for one aggregate. It is a pure
// function of its inputs.
func Score(agg GuideAggregate, opts Options) RankingResult {
	components := Components(agg, opts.RepeatMode)
	combined := Combine(components, opts.Weights)
	multiplier := ActivityMultiplier(agg.DaysActive30d)

	return RankingResult{
		GuideID:            agg.GuideID,
		Score:              FinalScore(combined, multiplier),
		ActivityMultiplier: multiplier,
		Combined:           combined,
		Components:         components,
		Aggregate:          agg,
	}
}

// Sort orders results by score descending. Equal scores are ordered by guide
// ID ascending so that repeated runs over the same data produce the same order.
func Sort(results []RankingResult) {
	slices.SortStableFunc(results, func(a, b RankingResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.GuideID, b.GuideID)
	})
}
