// Package governor provides power governing algorithms for ramping the charging
// target and anticipating tariff block changes.
package governor

// RampState remembers the last emitted target for the asymmetric ramp.
// The zero value starts from 0 W, which is also the state after a restart.
type RampState struct {
	Last int // Last target emitted, in watts
}

// RampConfig holds the ramp limits.
type RampConfig struct {
	UpStepW int // Maximum increase per update, in watts
}

// DefaultRampConfig allows one 10 A single phase step (2300 W) per update.
func DefaultRampConfig() RampConfig {
	return RampConfig{UpStepW: 2300}
}

// Update moves the target toward available.
// Drops are taken immediately so a stricter limit is never overshot.
// Rises are limited to UpStepW per update.
func (s *RampState) Update(available int, config RampConfig) int {
	switch {
	case available == s.Last:
		// Unchanged
	case available < s.Last:
		s.Last = available
	default:
		s.Last = min(available, s.Last+config.UpStepW)
	}
	return s.Last
}

// AnticipationConfig controls early ramp-down ahead of a stricter block.
type AnticipationConfig struct {
	LeadMinutes int // Apply the next block's cap this many minutes before it starts
}

// DefaultAnticipationConfig starts ramping down 10 minutes before a block change.
func DefaultAnticipationConfig() AnticipationConfig {
	return AnticipationConfig{LeadMinutes: 10}
}

// EffectiveCap returns the cap to enforce now. A lower next cap is adopted
// once the boundary is within LeadMinutes; a higher next cap is never
// anticipated and only applies once the block has changed.
func EffectiveCap(currentCapW, nextCapW, minutesToNext int, config AnticipationConfig) int {
	if nextCapW < currentCapW && minutesToNext <= config.LeadMinutes {
		return nextCapW
	}
	return currentCapW
}

// AvailablePower is the headroom under capW after average grid flow.
// Import (negative) reduces it, export (positive) adds to it, never below 0.
func AvailablePower(capW, avgGridPowerW int) int {
	return max(capW+avgGridPowerW, 0)
}
