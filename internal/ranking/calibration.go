package ranking

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// ErrInvalidWeights is returned when a weight configuration is negative or does
// not sum to 1.0.
var ErrInvalidWeights = errors.New("invalid ranking weights")

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string          `json:"version"`
	Weights WeightOverrides `json:"weights"`
}

// WeightOverrides are the weights named in a calibration file. A nil field
// keeps the default; an explicit 0 turns the component off.
type WeightOverrides struct {
	Repeat      *float64 `json:"repeat,omitempty"`
	AOV         *float64 `json:"aov,omitempty"`
	Volume      *float64 `json:"volume,omitempty"`
	Activity    *float64 `json:"activity,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	Response    *float64 `json:"response,omitempty"`
	Consistency *float64 `json:"consistency,omitempty"`
	Reliability *float64 `json:"reliability,omitempty"`
	Experience  *float64 `json:"experience,omitempty"`
}

// LoadCalibration loads ranking weights from a JSON calibration file.
// An empty path returns the defaults. Partial files are merged over the
// defaults, and the merged result must still sum to 1.0.
// On any error the default weights are returned alongside the error.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultWeights()
	merged := MergeCalibration(defaults, &config.Weights)
	if err := merged.Validate(); err != nil {
		slog.Warn("calibration weights rejected, using defaults",
			"path", filePath,
			"error", err)
		return defaults, err
	}
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration applies the weights set in override on top of base.
func MergeCalibration(base *Weights, override *WeightOverrides) *Weights {
	if base == nil {
		return DefaultWeights()
	}
	result := *base
	if override == nil {
		return &result
	}

	pick := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	pick(&result.Repeat, override.Repeat)
	pick(&result.AOV, override.AOV)
	pick(&result.Volume, override.Volume)
	pick(&result.Activity, override.Activity)
	pick(&result.Rating, override.Rating)
	pick(&result.Response, override.Response)
	pick(&result.Consistency, override.Consistency)
	pick(&result.Reliability, override.Reliability)
	pick(&result.Experience, override.Experience)

	return &result
}

// logCalibrationOverrides logs which weights differ from the defaults.
func logCalibrationOverrides(defaults *Weights, loaded *Weights) {
	var overrides []string
	diff := func(name string, def, got float64) {
		if def != got {
			overrides = append(overrides, fmt.Sprintf("%s: %.2f -> %.2f", name, def, got))
		}
	}
	diff("repeat", defaults.Repeat, loaded.Repeat)
	diff("aov", defaults.AOV, loaded.AOV)
	diff("volume", defaults.Volume, loaded.Volume)
	diff("activity", defaults.Activity, loaded.Activity)
	diff("rating", defaults.Rating, loaded.Rating)
	diff("response", defaults.Response, loaded.Response)
	diff("consistency", defaults.Consistency, loaded.Consistency)
	diff("reliability", defaults.Reliability, loaded.Reliability)
	diff("experience", defaults.Experience, loaded.Experience)

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
