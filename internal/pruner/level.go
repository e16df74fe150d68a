package pruner

import "github.com/icco/context-optimizer/internal/config"

// Utilization computes u = total_effective_tokens / context_window_size.
func Utilization(totalEffectiveTokens uint64, windowSize int64) float64 {
	if windowSize <= 0 {
		return 0
	}
	return float64(totalEffectiveTokens) / float64(windowSize)
}

// levelFor maps a utilization ratio to a pressure level per the threshold
// table, before any hysteresis suppression is applied.
func levelFor(u float64, cfg config.Config) Level {
	switch {
	case u >= cfg.EmergencyThreshold:
		return LevelEmergency
	case u >= cfg.HardThreshold:
		return LevelHard
	case u >= cfg.SoftThreshold:
		return LevelSoft
	default:
		return LevelNone
	}
}

// hysteresis tracks the suppression window imposed after an execution: the
// next decided level must be at least one step below the one just
// executed, until u rises again by >= 5% of the window.
type hysteresis struct {
	active        bool
	lastExecuted  Level
	floorUtilization float64
}

const hysteresisReleaseDelta = 0.05

// apply returns the effective level after accounting for any active
// suppression, given the raw level and current utilization.
func (h *hysteresis) apply(raw Level, u float64) Level {
	if !h.active {
		return raw
	}
	if u >= h.floorUtilization+hysteresisReleaseDelta {
		h.active = false
		return raw
	}
	if raw.rank() >= h.lastExecuted.rank() {
		capped := h.lastExecuted.rank() - 1
		return levelFromRank(capped)
	}
	return raw
}

// record is called after an execution to arm the suppression window.
func (h *hysteresis) record(executed Level, uAtExecution float64) {
	h.active = true
	h.lastExecuted = executed
	h.floorUtilization = uAtExecution
}

func levelFromRank(r int) Level {
	switch r {
	case 1:
		return LevelSoft
	case 2:
		return LevelHard
	case 3:
		return LevelEmergency
	default:
		return LevelNone
	}
}
