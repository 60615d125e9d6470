package ranking

import "math"

// GuideAggregate is a read-only snapshot of the raw signals for one guide in one
// run. It is the sole input to scoring.
type GuideAggregate struct {
	GuideID int64  `json:"guide_id"`
	Name    string `json:"name"` // display only, never used for scoring or exclusion

	CompletedConsultations int64   `json:"completed_consultations"`
	ReviewCount            int64   `json:"review_count"`
	AvgRating              float64 `json:"avg_rating"` // mean of 1-5 ratings, 0 when no reviews

	// Legacy repeat inputs: distinct customers vs. completed bookings.
	UniqueCustomers int64 `json:"unique_customers"`
	TotalBookings   int64 `json:"total_bookings"`

	// Funnel repeat inputs: first-spend customers who topped up and spent again.
	RepeatCustomers int64 `json:"repeat_customers"`
	TotalCustomers  int64 `json:"total_customers"`

	AvgOrderValue    float64 `json:"avg_order_value"`
	MedianOrderValue float64 `json:"median_order_value"`

	// AvgResponseSeconds is nil when no completed consultation has both
	// request and acceptance timestamps.
	AvgResponseSeconds *float64 `json:"avg_response_seconds,omitempty"`

	TotalConsidered int64 `json:"total_considered_consultations"` // completed + cancelled + guide-rejected
	CancelledCount  int64 `json:"cancelled_count"`

	DaysActive30d int64 `json:"days_active_30d"`

	// MonthsOnPlatform is nil when the onboarding date is unknown.
	MonthsOnPlatform *float64 `json:"months_on_platform,omitempty"`
}

// Float64 returns a pointer to v. It is a convenience for building aggregates
// with optional fields.
func Float64(v float64) *float64 {
	return &v
}

// nonNegative clamps negative counts to zero.
func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// clamp01 restricts v to [0, 1]. NaN maps to 0.
func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
