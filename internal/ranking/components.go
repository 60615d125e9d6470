package ranking

import "math"

// Component thresholds. These are guide-independent constants.
const (
	RatingPrior       = 4.0 // prior mean rating for Bayesian smoothing
	RatingPriorWeight = 5.0 // number of pseudo-reviews at the prior
	RatingMin         = 1.0
	RatingMax         = 5.0

	VolumeCap = 200.0 // completed consultations reaching volume 1.0

	AOVCap = 50.0 // average order value (INR) reaching aov 1.0

	ResponseFastSeconds = 30.0  // at or below: response 1.0
	ResponseSlowSeconds = 300.0 // above: neutral response
	ResponseNeutral     = 0.5

	ExperienceCapMonths = 24.0
	ExperienceNeutral   = 0.5

	ActivityCapDays = 20.0 // active days in the trailing 30 reaching activity 1.0
)

// RatingScore returns the Bayesian-smoothed mean rating mapped from the 1-5
// scale to [0, 1]. With no reviews the prior (4.0) is used, giving 0.75.
func RatingScore(reviewCount int64, avgRating float64) float64 {
	reviewCount = nonNegative(reviewCount)
	smoothed := RatingPrior
	if reviewCount > 0 {
		avg := math.Max(RatingMin, math.Min(RatingMax, avgRating))
		n := float64(reviewCount)
		smoothed = (n*avg + RatingPriorWeight*RatingPrior) / (n + RatingPriorWeight)
	}
	return clamp01((smoothed - RatingMin) / (RatingMax - RatingMin))
}

// VolumeScore returns log10(completed)/log10(200) capped at 1.0.
func VolumeScore(completed int64) float64 {
	if completed <= 0 {
		return 0
	}
	return clamp01(math.Log10(float64(completed)) / math.Log10(VolumeCap))
}

// ConsistencyScore returns the fraction of completed consultations that
// received feedback.
func ConsistencyScore(reviewCount, completed int64) float64 {
	if completed <= 0 {
		return 0
	}
	return clamp01(float64(nonNegative(reviewCount)) / float64(completed))
}

// RepeatFunnel returns the fraction of first-time paying customers who topped
// up their wallet and spent with the guide again.
func RepeatFunnel(repeatCustomers, totalCustomers int64) float64 {
	if totalCustomers <= 0 {
		return 0
	}
	return clamp01(float64(nonNegative(repeatCustomers)) / float64(totalCustomers))
}

// RepeatLegacy returns the booking-surplus ratio
// (total_bookings - unique_customers) / total_bookings.
// It approximates repeat behavior from booking counts alone and is kept only
// for comparison against RepeatFunnel.
func RepeatLegacy(totalBookings, uniqueCustomers int64) float64 {
	if uniqueCustomers <= 0 || totalBookings <= uniqueCustomers {
		return 0
	}
	return clamp01(float64(totalBookings-uniqueCustomers) / float64(totalBookings))
}

// AOVScore returns avg_order_value / 50 capped at 1.0.
func AOVScore(avgOrderValue float64) float64 {
	if !(avgOrderValue > 0) {
		return 0
	}
	return clamp01(avgOrderValue / AOVCap)
}

// ResponseScore maps the mean acceptance delay to [0, 1]. Missing data and
// delays over five minutes are neutral (0.5), not zero.
func ResponseScore(avgResponseSeconds *float64) float64 {
	if avgResponseSeconds == nil || math.IsNaN(*avgResponseSeconds) {
		return ResponseNeutral
	}
	s := *avgResponseSeconds
	switch {
	case s > ResponseSlowSeconds:
		return ResponseNeutral
	case s <= ResponseFastSeconds:
		return 1.0
	default:
		return clamp01(1.0 - (s-ResponseFastSeconds)/(ResponseSlowSeconds-ResponseFastSeconds))
	}
}

// ReliabilityScore returns 1 - cancelled/considered. A guide with no history
// is assumed reliable.
func ReliabilityScore(cancelled, considered int64) float64 {
	if considered <= 0 {
		return 1.0
	}
	return clamp01(1.0 - float64(nonNegative(cancelled))/float64(considered))
}

// ExperienceScore returns months on platform normalized against 24 months.
// Unknown account age is neutral (0.5).
func ExperienceScore(monthsOnPlatform *float64) float64 {
	if monthsOnPlatform == nil || math.IsNaN(*monthsOnPlatform) {
		return ExperienceNeutral
	}
	return clamp01(*monthsOnPlatform / ExperienceCapMonths)
}

// ActivityScore returns days_active_30d / 20 capped at 1.0.
func ActivityScore(daysActive int64) float64 {
	if daysActive <= 0 {
		return 0
	}
	return clamp01(float64(daysActive) / ActivityCapDays)
}

// ActivityMultiplier is the stepped decay applied to the combined score.
//
//	< 5 days   0.5
//	5-9 days   0.75
//	10-14 days 0.9
//	15+ days   1.0
func ActivityMultiplier(daysActive int64) float64 {
	switch {
	case daysActive < 5:
		return 0.5
	case daysActive < 10:
		return 0.75
	case daysActive < 15:
		return 0.9
	default:
		return 1.0
	}
}
