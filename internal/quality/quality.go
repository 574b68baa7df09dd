// Package quality holds the pure scoring functions of the catalog: the
// weighted proxy quality score, the per-source EMA, and the small
// heuristics used before full signals are available.
package quality

// Weights of the proxy quality model.
type Weights struct {
	Latency          float64
	CountryDiversity float64
	SourceQuality    float64
	Uptime           float64
	FraudPenalty     float64
	LeakPenalty      float64
	EliteBonus       float64
}

// DefaultWeights returns the production weight set.
func DefaultWeights() Weights {
	return Weights{
		Latency:          0.40,
		CountryDiversity: 0.15,
		SourceQuality:    0.25,
		Uptime:           0.20,
		FraudPenalty:     0.50,
		LeakPenalty:      0.30,
		EliteBonus:       0.15,
	}
}

// MobileBonus is the flat premium applied for a carrier-ASN relay. It is
// added after the base score has been clamped, so a mobile relay's stored
// score can legitimately exceed 1.0 (up to 1.2).
const MobileBonus = 0.20

// SourceEMASmoothing is the alpha of the per-source quality EMA.
const SourceEMASmoothing = 0.3

// rareCountries gets a flat diversity bonus.
var rareCountries = map[string]struct{}{
	"IS": {}, "LU": {}, "CH": {}, "SG": {}, "NL": {},
}

// Signals are the validation-derived inputs to the quality score.
type Signals struct {
	LatencyMs     int64
	Country       string
	SourceQuality float64
	AgeHours      int64
	FraudScore    float64
	DNSLeak       bool
	Elite         bool
}

// Score computes the base proxy quality score, clamped to [0, 1]. Missing
// auxiliary signals contribute zero; they never abort scoring.
func Score(sig Signals, w Weights) float64 {
	score := 0.0

	// Latency term, linear up to the 5s ceiling.
	latencyNorm := 1.0 - min64(float64(sig.LatencyMs)/5000.0, 1.0)
	score += latencyNorm * w.Latency

	if CountryRare(sig.Country) {
		score += w.CountryDiversity
	}

	score += sig.SourceQuality * w.SourceQuality
	score += Freshness(sig.AgeHours) * w.Uptime

	score -= sig.FraudScore * w.FraudPenalty
	if sig.DNSLeak {
		score -= w.LeakPenalty
	}
	if sig.Elite {
		score += w.EliteBonus
	}

	return clamp01(score)
}

// Freshness maps age-of-discovery to a staircase weight favouring records
// validated recently.
func Freshness(ageHours int64) float64 {
	switch {
	case ageHours < 1:
		return 1.0
	case ageHours < 6:
		return 0.8
	case ageHours < 24:
		return 0.5
	default:
		return 0.2
	}
}

// CountryRare reports whether a country code earns the diversity bonus.
func CountryRare(country string) bool {
	_, ok := rareCountries[country]
	return ok
}

// SourceEMA folds one cycle's success rate into a source's quality score:
// new = 0.3*rate + 0.7*prior. Sources untouched by a cycle keep their last
// value; there is no decay.
func SourceEMA(prior, successRate float64) float64 {
	return SourceEMASmoothing*successRate + (1.0-SourceEMASmoothing)*prior
}

// HeuristicScore is a quick pre-ranking for candidates that only carry
// latency and country, used before a full signal set exists.
func HeuristicScore(latencyMs int64, country string) float64 {
	bonus := 0.0
	if CountryRare(country) {
		bonus = 0.2
	}

	var latencyScore float64
	switch {
	case latencyMs < 100:
		latencyScore = 1.0
	case latencyMs < 300:
		latencyScore = 0.8
	case latencyMs < 1000:
		latencyScore = 0.5
	case latencyMs < 3000:
		latencyScore = 0.3
	default:
		latencyScore = 0.1
	}

	return min64(latencyScore+bonus, 1.0)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
