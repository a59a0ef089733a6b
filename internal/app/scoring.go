package app

import (
	"math"
	"time"
)

// Settings holds the per-round game parameters.
type Settings struct {
	// TimeBudget is how long a round stays open for answers.
	TimeBudget time.Duration
	// MaxPoints is awarded for an instant correct answer.
	MaxPoints int
	// Exponent shapes the reward curve. With Exponent > 1 the payout drops
	// steeply as soon as time is spent, then flattens as the deadline nears.
	Exponent float64
}

// DefaultSettings mirror the tuning of the reference game client.
func DefaultSettings() Settings {
	return Settings{
		TimeBudget: 15 * time.Second,
		MaxPoints:  150,
		Exponent:   2,
	}
}

// Points maps server-observed time remaining to awarded points:
// round(maxPoints * x^k) with x = clamp(remaining/budget, 0, 1).
// Monotonically non-decreasing in remaining and bounded in [0, maxPoints].
func (s Settings) Points(remaining time.Duration) int {
	if s.TimeBudget <= 0 {
		return 0
	}
	x := remaining.Seconds() / s.TimeBudget.Seconds()
	if x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	return int(math.Round(float64(s.MaxPoints) * math.Pow(x, s.Exponent)))
}
