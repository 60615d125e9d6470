package ranking

import (
	"fmt"
	"math"
)

// Weights holds the per-component weights of the combined score.
// The default weights sum to exactly 1.0.
type Weights struct {
	Repeat      float64 `json:"repeat"`      // default 0.35
	AOV         float64 `json:"aov"`         // default 0.15
	Volume      float64 `json:"volume"`      // default 0.15
	Activity    float64 `json:"activity"`    // default 0.15
	Rating      float64 `json:"rating"`      // default 0.05
	Response    float64 `json:"response"`    // default 0.05
	Consistency float64 `json:"consistency"` // default 0.05
	Reliability float64 `json:"reliability"` // default 0.03
	Experience  float64 `json:"experience"`  // default 0.02
}

// weightSumTolerance absorbs float error when checking that weights sum to 1.
const weightSumTolerance = 1e-9

// ScoreScale rescales the combined [0, 1] score to the 0-10 range.
const ScoreScale = 10.0

// DefaultWeights returns the production weight configuration.
//
// Formula: combined = repeat*0.35 + aov*0.15 + volume*0.15 + activity*0.15 +
// rating*0.05 + response*0.05 + consistency*0.05 + reliability*0.03 +
// experience*0.02
func DefaultWeights() *Weights {
	return &Weights{
		Repeat:      0.35,
		AOV:         0.15,
		Volume:      0.15,
		Activity:    0.15,
		Rating:      0.05,
		Response:    0.05,
		Consistency: 0.05,
		Reliability: 0.03,
		Experience:  0.02,
	}
}

// Sum returns the total of all weights.
func (w *Weights) Sum() float64 {
	return w.Repeat + w.AOV + w.Volume + w.Activity + w.Rating +
		w.Response + w.Consistency + w.Reliability + w.Experience
}

// Validate checks that no weight is negative and that the weights sum to 1.0.
func (w *Weights) Validate() error {
	named := []struct {
		name  string
		value float64
	}{
		{"repeat", w.Repeat},
		{"aov", w.AOV},
		{"volume", w.Volume},
		{"activity", w.Activity},
		{"rating", w.Rating},
		{"response", w.Response},
		{"consistency", w.Consistency},
		{"reliability", w.Reliability},
		{"experience", w.Experience},
	}
	for _, n := range named {
		if n.value < 0 || math.IsNaN(n.value) {
			return fmt.Errorf("%w: %s weight is %v", ErrInvalidWeights, n.name, n.value)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: weights sum to %.4f, want 1.0", ErrInvalidWeights, sum)
	}
	return nil
}

// Combine returns the weighted sum of the component scores, in [0, 1] when the
// weights are valid.
func Combine(c ComponentScores, w *Weights) float64 {
	if w == nil {
		w = DefaultWeights()
	}
	return c.Repeat*w.Repeat +
		c.AOV*w.AOV +
		c.Volume*w.Volume +
		c.Activity*w.Activity +
		c.Rating*w.Rating +
		c.Response*w.Response +
		c.Consistency*w.Consistency +
		c.Reliability*w.Reliability +
		c.Experience*w.Experience
}

// FinalScore scales the combined score by the activity multiplier and by 10,
// rounding to two decimals. The result is clamped to [0, 10].
func FinalScore(combined, multiplier float64) float64 {
	score := Round(combined*multiplier*ScoreScale, 2)
	return math.Max(0, math.Min(ScoreScale, score))
}

// Round rounds v to the given number of decimal places, half away from zero.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
