// Package epi computes the Ethical Profitability Index, the composite
// [0,1] score gating agent actions.
//
// Core formula: EPI = H(P,E) × B(P,E) × T(V)
//   - H: harmonic mean of profit and ethics (a low score in either
//     dimension dominates)
//   - B: golden-ratio balance penalty on |P−E|
//   - T: geometric trust decay over unresolved violations
package epi

import (
	"fmt"
	"math"
	"sort"

	"github.com/microai-dao/trustcore/pkg/contracts"
)

const (
	// PhiConjugate is (√5−1)/2 ≈ 0.618, the golden ratio conjugate used
	// as the balance penalty slope.
	PhiConjugate = 0.6180339887498949

	// GoldenRatio is φ = (1+√5)/2 ≈ 1.618, the target P/E ratio.
	GoldenRatio = 1.618033988749895

	// DefaultThreshold is the policy default for is_valid.
	DefaultThreshold = 0.70

	// trustFloor: trust below this collapses to exactly zero.
	trustFloor = 1e-6
)

// Inputs are the scoring inputs. All scalar fields must be in [0,1];
// out-of-range input is a validation error, never silently clamped.
type Inputs struct {
	Profit               float64   `json:"profit"`
	Ethics               float64   `json:"ethics"`
	Violations           []float64 `json:"violations,omitempty"`
	StakeholderSentiment float64   `json:"stakeholder_sentiment"`
	TransparencyScore    float64   `json:"transparency_score"`
	SustainabilityScore  float64   `json:"sustainability_score"`
	ComplianceScore      float64   `json:"compliance_score"`
}

// Components breaks the score down into its factors.
type Components struct {
	Ethical        float64 `json:"ethical"`
	Profitability  float64 `json:"profitability"`
	HarmonicMean   float64 `json:"harmonic_mean"`
	BalancePenalty float64 `json:"balance_penalty"`
	Trust          float64 `json:"trust"`
	BalanceRatio   float64 `json:"balance_ratio"`
}

// Result is an immutable scoring outcome, owned by the caller.
type Result struct {
	Score                   float64    `json:"score"`
	IsValid                 bool       `json:"is_valid"`
	Components              Components `json:"components"`
	GoldenRatioDeviation    float64    `json:"golden_ratio_deviation"`
	Confidence              float64    `json:"confidence"`
	Reason                  string     `json:"reason"`
	OptimizationSuggestions []string   `json:"optimization_suggestions"`
}

// Calculator is a pure scoring engine. Zero-value-safe via NewCalculator.
type Calculator struct {
	threshold float64
	phiWeight float64
}

// NewCalculator builds a calculator with the given approval threshold.
// A non-positive threshold selects DefaultThreshold.
func NewCalculator(threshold float64) *Calculator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Calculator{threshold: threshold, phiWeight: 1.0}
}

// Threshold returns the approval threshold in effect.
func (c *Calculator) Threshold() float64 { return c.threshold }

// Score computes the full EPI result for the given inputs.
func (c *Calculator) Score(in Inputs) (Result, error) {
	if err := validate(in); err != nil {
		return Result{}, err
	}

	p, e := in.Profit, in.Ethics
	hm := harmonicMean(p, e)
	penalty := c.balancePenalty(p, e)
	trust := trustAccumulator(in.Violations)

	score := clamp01(hm * penalty * trust)

	deviation := goldenRatioDeviation(p, e)
	balanceRatio := 0.0
	if !math.IsInf(deviation, 1) {
		balanceRatio = 1.0 / (1.0 + deviation)
	}

	res := Result{
		Score:   score,
		IsValid: score >= c.threshold,
		Components: Components{
			Ethical:        e,
			Profitability:  p,
			HarmonicMean:   hm,
			BalancePenalty: penalty,
			Trust:          trust,
			BalanceRatio:   balanceRatio,
		},
		GoldenRatioDeviation: deviation,
		Confidence:           confidence(trust),
		Reason:               c.reason(score, hm, penalty, trust, e, p),
	}
	res.OptimizationSuggestions = c.suggest(in, score)
	return res, nil
}

func validate(in Inputs) error {
	scalars := map[string]float64{
		"profit":                in.Profit,
		"ethics":                in.Ethics,
		"stakeholder_sentiment": in.StakeholderSentiment,
		"transparency_score":    in.TransparencyScore,
		"sustainability_score":  in.SustainabilityScore,
		"compliance_score":      in.ComplianceScore,
	}
	for name, v := range scalars {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("%w: %s must be in [0,1], got %v", contracts.ErrValidation, name, v)
		}
	}
	for i, v := range in.Violations {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("%w: violation[%d] severity must be in [0,1], got %v", contracts.ErrValidation, i, v)
		}
	}
	return nil
}

// harmonicMean is H = 2pe/(p+e), 0 when either input is 0.
func harmonicMean(p, e float64) float64 {
	if p <= 0 || e <= 0 {
		return 0
	}
	return 2 * p * e / (p + e)
}

// balancePenalty is B = max(0, 1 − w·φ'·|p−e|). Symmetric in p and e.
func (c *Calculator) balancePenalty(p, e float64) float64 {
	penalty := 1 - c.phiWeight*PhiConjugate*math.Abs(p-e)
	return math.Max(0, penalty)
}

// trustAccumulator is T = Π(1−vᵢ). Trust never recovers on its own; it is
// only reset through an explicit guardian override.
func trustAccumulator(violations []float64) float64 {
	trust := 1.0
	for _, v := range violations {
		trust *= 1 - v
		if trust < trustFloor {
			return 0
		}
	}
	return trust
}

// goldenRatioDeviation measures distance of p/e from φ or 1/φ.
func goldenRatioDeviation(p, e float64) float64 {
	if e == 0 {
		return math.Inf(1)
	}
	ratio := p / e
	return math.Min(math.Abs(ratio-GoldenRatio), math.Abs(ratio-1/GoldenRatio))
}

// confidence is the harmonic mean of the default assessment confidence and
// the trust factor.
func confidence(trust float64) float64 {
	const assessmentConfidence = 0.7
	if assessmentConfidence+trust == 0 {
		return 0
	}
	return 2 * assessmentConfidence * trust / (assessmentConfidence + trust)
}

func (c *Calculator) reason(score, hm, penalty, trust, ethics, profit float64) string {
	if score >= c.threshold {
		return "approved"
	}
	switch {
	case hm < 0.5 && ethics < profit:
		return "rejected: ethical component too low"
	case hm < 0.5:
		return "rejected: profitability component too low"
	case penalty < 0.7:
		return "rejected: imbalance between profit and ethics"
	case trust < 0.5:
		return "rejected: trust compromised by violations"
	default:
		return fmt.Sprintf("rejected: EPI %.3f below threshold %.2f", score, c.threshold)
	}
}

// suggest ranks up to three suggestions by expected marginal score
// improvement, estimated by nudging each lever and rescoring.
func (c *Calculator) suggest(in Inputs, current float64) []string {
	type candidate struct {
		gain float64
		text string
	}

	rescore := func(p, e float64, violations []float64) float64 {
		return clamp01(harmonicMean(p, e) * c.balancePenalty(p, e) * trustAccumulator(violations))
	}

	const step = 0.1
	cands := []candidate{
		{
			gain: rescore(in.Profit, math.Min(1, in.Ethics+step), in.Violations) - current,
			text: "raise the ethics component through stakeholder, transparency and sustainability improvements",
		},
		{
			gain: rescore(math.Min(1, in.Profit+step), in.Ethics, in.Violations) - current,
			text: "raise the profitability component through cost structure and revenue optimization",
		},
	}
	if len(in.Violations) > 0 {
		cands = append(cands, candidate{
			gain: rescore(in.Profit, in.Ethics, nil) - current,
			text: "resolve outstanding violations to restore the trust factor",
		})
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].gain > cands[j].gain })

	out := make([]string, 0, 3)
	for _, cand := range cands {
		if cand.gain <= 0 {
			continue
		}
		out = append(out, cand.text)
		if len(out) == 3 {
			break
		}
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
