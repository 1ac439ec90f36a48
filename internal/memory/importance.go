package memory

import (
	"math"
	"time"
)

// Importance scoring combines the prior score with time decay, access
// frequency and relation connectivity. Scores stay in [0, 1]; the
// maintenance pass deletes entities that decay below DeleteThreshold.

const (
	// weights of the combined score
	weightPrior     = 0.35
	weightTime      = 0.25
	weightFrequency = 0.25
	weightRelations = 0.15

	// DeleteThreshold is the importance below which the maintenance pass
	// removes an entity outright.
	DeleteThreshold = 0.01

	// ConsolidationThreshold is the minimum importance for an episodic
	// entity to be eligible for consolidation.
	ConsolidationThreshold = 0.5
)

// decay rates per category, per hour of age. Volatile categories like
// topics fade fast; people and concepts persist.
var decayRates = map[string]float64{
	"topic":    0.10,
	"location": 0.07,
	"person":   0.04,
	"concept":  0.03,
}

const defaultDecayRate = 0.05

// decayRate adjusts the category base rate for the entity's history:
// heavily-accessed entities decay slower, rarely-touched ones faster, and
// the prior importance further stretches or compresses the curve.
func decayRate(category string, prior float64, accessCount int) float64 {
	rate := defaultDecayRate
	if r, ok := decayRates[category]; ok {
		rate = r
	}
	switch {
	case accessCount > 50:
		rate *= 0.5
	case accessCount < 5:
		rate *= 1.5
	}
	if prior > 0.9 {
		rate *= 0.1
	}
	if prior < 0.2 {
		rate *= 2.0
	}
	return rate
}

// timeFactor decays exponentially with age.
func timeFactor(category string, prior float64, accessCount int, age time.Duration) float64 {
	hours := age.Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Exp(-decayRate(category, prior, accessCount) * hours)
}

// frequencyFactor maps access count to [0, 1] on a log scale, saturating
// at 1000 accesses.
func frequencyFactor(accessCount int) float64 {
	n := accessCount
	if n > 1000 {
		n = 1000
	}
	return math.Log(1+float64(n)) / math.Log(1001)
}

// relationsFactor rewards connectivity, saturating at 20 relations.
func relationsFactor(relationCount int) float64 {
	f := float64(relationCount) / 20
	if f > 1 {
		f = 1
	}
	return f
}

// Score computes the combined importance of an entity at time now.
// prior is the entity's current importance, lastTouched its most recent
// update. The result is monotone in access count and relation count and
// decays with age, clamped to [0, 1].
func Score(category string, prior float64, accessCount, relationCount int, lastTouched, now time.Time) float64 {
	combined := weightPrior*prior +
		weightTime*timeFactor(category, prior, accessCount, now.Sub(lastTouched)) +
		weightFrequency*frequencyFactor(accessCount) +
		weightRelations*relationsFactor(relationCount)
	return math.Max(0, math.Min(1, combined))
}

// ConsolidatedScore boosts an existing semantic entity's importance when
// fresh episodic evidence is folded into it.
func ConsolidatedScore(prior float64) float64 {
	return math.Min(prior*1.5, 1.0)
}
