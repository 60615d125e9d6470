// Package ranking turns per-guide behavioral and financial aggregates into a
// single bounded ranking score.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	weights, err := ranking.LoadCalibration(cfg.CalibrationFile)
//	if err != nil {
//		logger.Warn("using default weights", "error", err)
//	}
//
//	result := ranking.Score(agg, ranking.Options{Weights: weights})
//	fmt.Println(result.Score) // 0.00 - 10.00
//
// Component Functions:
//
// Each of the nine component functions (RatingScore, VolumeScore,
// ConsistencyScore, RepeatFunnel, AOVScore, ResponseScore, ReliabilityScore,
// ExperienceScore, ActivityScore) is pure and returns a value in the [0, 1]
// range. Divide-by-zero cases resolve to a fixed neutral or zero value and
// inconsistent upstream data is clamped, so no component ever fails.
//
// Combination:
//
// The components are combined with fixed weights summing to 1.0, multiplied by
// the stepped ActivityMultiplier and rescaled by 10, then rounded to two
// decimals. A guide with every component at 1.0 and 15+ active days scores
// exactly 10.00.
//
// Repeat Rate:
//
// RepeatFunnel (first spend, wallet top-up, second spend) is the canonical
// repeat definition. RepeatLegacy keeps the older booking-surplus ratio for
// comparison and is only used when RepeatModeLegacy is selected explicitly.
package ranking
