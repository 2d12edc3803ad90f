// Package retrieval drives the external media engine through an ordered pair
// of named strategies, falling back from primary to fallback when the first
// is exhausted.
package retrieval

import (
	"time"

	"github.com/saveforme/saveforme/internal/config"
)

// Strategy is one named retrieval profile. The primary strategy favors
// quality; the fallback trades quality for reliability with a different
// client profile, more attempts, and a lower resolution ceiling.
type Strategy struct {
	Name           string
	ClientProfile  string
	MaxAttempts    int
	SocketTimeout  time.Duration
	QualityCeiling int
}

// StrategyFromConfig builds a Strategy from its configuration block.
func StrategyFromConfig(name string, sc config.StrategyConfig) Strategy {
	return Strategy{
		Name:           name,
		ClientProfile:  sc.ClientProfile,
		MaxAttempts:    sc.Retries,
		SocketTimeout:  time.Duration(sc.SocketTimeoutS) * time.Second,
		QualityCeiling: sc.QualityCeiling,
	}
}

// EffectiveQuality resolves the requested height against the strategy
// ceiling. A requested value of 0 means "best available" and resolves to the
// ceiling itself; explicit requests above the ceiling are clamped down.
func (s Strategy) EffectiveQuality(requested int) int {
	if s.QualityCeiling <= 0 {
		return requested
	}
	if requested <= 0 || requested > s.QualityCeiling {
		return s.QualityCeiling
	}
	return requested
}
