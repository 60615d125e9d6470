package ranking

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestLoadCalibration_EmptyPath tests loading with empty file path.
func TestLoadCalibration_EmptyPath(t *testing.T) {
	weights, err := LoadCalibration("")
	if err != nil {
		t.Errorf("expected no error with empty path, got: %v", err)
	}
	if *weights != *DefaultWeights() {
		t.Error("should return defaults when path is empty")
	}
}

// TestLoadCalibration_NonExistentFile tests loading a non-existent file.
func TestLoadCalibration_NonExistentFile(t *testing.T) {
	weights, err := LoadCalibration("/nonexistent/path/to/file.json")
	if err == nil {
		t.Error("expected error when file doesn't exist")
	}
	if *weights != *DefaultWeights() {
		t.Error("should return defaults when file doesn't exist")
	}
}

// TestLoadCalibration_DefaultFile loads the calibration file shipped in configs/.
func TestLoadCalibration_DefaultFile(t *testing.T) {
	configPath := filepath.Join("..", "..", "configs", "ranking.calibration.json")
	if _, err := os.Stat(configPath); err != nil {
		t.Skip("default calibration file not present")
	}

	weights, err := LoadCalibration(configPath)
	if err != nil {
		t.Fatalf("expected no error loading default calibration file, got: %v", err)
	}
	if *weights != *DefaultWeights() {
		t.Errorf("loaded weights don't match defaults:\nloaded: %+v\ndefaults: %+v", weights, DefaultWeights())
	}
}

// TestLoadCalibration_CustomWeights tests a full override that still sums to 1.
func TestLoadCalibration_CustomWeights(t *testing.T) {
	custom := Weights{
		Repeat:      0.30,
		AOV:         0.20,
		Volume:      0.15,
		Activity:    0.15,
		Rating:      0.05,
		Response:    0.05,
		Consistency: 0.05,
		Reliability: 0.03,
		Experience:  0.02,
	}
	path := writeCalibration(t, `{"version": "1.0", "weights": {
		"repeat": 0.30, "aov": 0.20, "volume": 0.15, "activity": 0.15, "rating": 0.05,
		"response": 0.05, "consistency": 0.05, "reliability": 0.03, "experience": 0.02}}`)

	weights, err := LoadCalibration(path)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if *weights != custom {
		t.Errorf("loaded %+v, want %+v", weights, custom)
	}
}

// TestLoadCalibration_RejectsBadSum tests that a partial override breaking the
// sum falls back to defaults.
func TestLoadCalibration_RejectsBadSum(t *testing.T) {
	path := writeCalibration(t, `{"version": "1.0", "weights": {"repeat": 0.9}}`)

	weights, err := LoadCalibration(path)
	if !errors.Is(err, ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights, got: %v", err)
	}
	if *weights != *DefaultWeights() {
		t.Error("should return defaults when weights are invalid")
	}
}

// TestLoadCalibration_ZeroDisablesComponent tests that an explicit zero
// weight is applied rather than treated as unset.
func TestLoadCalibration_ZeroDisablesComponent(t *testing.T) {
	path := writeCalibration(t, `{"version": "1.1", "weights": {"repeat": 0.37, "experience": 0}}`)

	weights, err := LoadCalibration(path)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if weights.Experience != 0 {
		t.Errorf("expected experience weight 0, got %v", weights.Experience)
	}
	if weights.Repeat != 0.37 {
		t.Errorf("expected repeat weight 0.37, got %v", weights.Repeat)
	}
	if weights.AOV != DefaultWeights().AOV {
		t.Errorf("unnamed weights should keep defaults: %+v", weights)
	}
}

// TestLoadCalibration_InvalidJSON tests a malformed file.
func TestLoadCalibration_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	weights, err := LoadCalibration(path)
	if err == nil {
		t.Error("expected parse error")
	}
	if *weights != *DefaultWeights() {
		t.Error("should return defaults on parse error")
	}
}

func TestMergeCalibration(t *testing.T) {
	base := DefaultWeights()

	if got := MergeCalibration(nil, nil); *got != *DefaultWeights() {
		t.Error("nil base should produce defaults")
	}
	if got := MergeCalibration(base, nil); *got != *base || got == base {
		t.Error("nil override should return a copy of base")
	}

	merged := MergeCalibration(base, &WeightOverrides{Repeat: Float64(0.30), AOV: Float64(0.20), Rating: Float64(0)})
	if merged.Repeat != 0.30 || merged.AOV != 0.20 || merged.Rating != 0 {
		t.Errorf("overrides not applied: %+v", merged)
	}
	if merged.Volume != base.Volume || merged.Experience != base.Experience {
		t.Errorf("unset overrides should keep base values: %+v", merged)
	}
	if base.Repeat != 0.35 {
		t.Error("MergeCalibration must not mutate base")
	}
}

func writeCalibration(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calibration.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
