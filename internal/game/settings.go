package game

import (
	"math"
	"strconv"
	"strings"
)

// Settings is the normalized, bounded game configuration. Numeric fields are
// always inside their documented ranges after NormalizeSettings.
type Settings struct {
	PreproductionGoal  int    `json:"preproductionGoal" yaml:"preproductionGoal"`
	OvertakeMargin     int    `json:"overtakeMargin" yaml:"overtakeMargin"`
	MinTenureSec       int    `json:"minTenureSec" yaml:"minTenureSec"`
	CommandDurationSec int    `json:"commandDurationSec" yaml:"commandDurationSec"`
	CommandCooldownSec int    `json:"commandCooldownSec" yaml:"commandCooldownSec"`
	TipMenuRefreshSec  int    `json:"tipMenuRefreshSec" yaml:"tipMenuRefreshSec"`
	FallbackTipMenu    string `json:"fallbackTipMenu" yaml:"fallbackTipMenu"`
	BackendURL         string `json:"backendUrl" yaml:"backendUrl"`
	BackendAPIKey      string `json:"backendApiKey" yaml:"backendApiKey"`
}

// DefaultSettings returns the configuration used when no valid input exists.
func DefaultSettings() Settings {
	return Settings{
		PreproductionGoal:  50,
		OvertakeMargin:     10,
		MinTenureSec:       15,
		CommandDurationSec: 20,
		CommandCooldownSec: 6,
		TipMenuRefreshSec:  20,
		FallbackTipMenu:    "Close-up|25\nDance|40\nEye contact|30",
	}
}

// NormalizeSettings clamps an arbitrary raw settings record into Settings.
// It never fails: absent or invalid values fall back to defaults, values
// above a field's maximum are capped at the maximum.
func NormalizeSettings(raw map[string]any) Settings {
	def := DefaultSettings()
	return Settings{
		PreproductionGoal:  clampedInt(raw["preproductionGoal"], def.PreproductionGoal, 10, 10000),
		OvertakeMargin:     clampedInt(raw["overtakeMargin"], def.OvertakeMargin, 1, 1000),
		MinTenureSec:       clampedInt(raw["minTenureSec"], def.MinTenureSec, 5, 600),
		CommandDurationSec: clampedInt(raw["commandDurationSec"], def.CommandDurationSec, 5, 300),
		CommandCooldownSec: clampedInt(raw["commandCooldownSec"], def.CommandCooldownSec, 1, 120),
		TipMenuRefreshSec:  clampedInt(raw["tipMenuRefreshSec"], def.TipMenuRefreshSec, 5, 300),
		FallbackTipMenu:    stringOr(raw["fallbackTipMenu"], def.FallbackTipMenu),
		BackendURL:         stringOr(raw["backendUrl"], def.BackendURL),
		BackendAPIKey:      stringOr(raw["backendApiKey"], def.BackendAPIKey),
	}
}

// clampedInt coerces value to an integer in [min, max]. Values below min fall
// back to the default, values above max are capped at max.
func clampedInt(value any, fallback, min, max int) int {
	num, ok := toFloat(value)
	if !ok {
		return fallback
	}
	if num < float64(min) {
		return fallback
	}
	if num > float64(max) {
		return max
	}
	return int(math.Floor(num))
}

func stringOr(value any, fallback string) string {
	s, ok := value.(string)
	if !ok {
		return fallback
	}
	if trimmed := strings.TrimSpace(s); trimmed != "" {
		return trimmed
	}
	return fallback
}

// toFloat coerces the loose value shapes a JSON settings record can carry.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return num, true
	default:
		return 0, false
	}
}
