// Package risk classifies agent actions into the four-tier approval
// rigor scale used by the governance layer:
//
//	Tier 1 Low      → automated approval
//	Tier 2 Medium   → technical review
//	Tier 3 High     → multi-stakeholder review
//	Tier 4 Critical → full vote plus external audit
package risk

import (
	"fmt"
	"math"

	"github.com/microai-dao/trustcore/pkg/contracts"
)

// Tier is the 1–4 risk classification.
type Tier int

const (
	TierLow Tier = iota + 1
	TierMedium
	TierHigh
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	case TierCritical:
		return "critical"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Approval is the workflow rigor a tier requires.
type Approval string

const (
	ApprovalAuto             Approval = "auto"
	ApprovalTechnicalReview  Approval = "technical_review"
	ApprovalMultiStakeholder Approval = "multi_stakeholder"
	ApprovalFullVoteAudit    Approval = "full_vote_plus_audit"
)

// Factors are the five risk inputs, each normalized to [0,1] with higher
// values meaning higher risk. Reversibility is risk-oriented: 1.0 means a
// permanent, irreversible decision.
type Factors struct {
	Impact        float64 `json:"impact"`
	Autonomy      float64 `json:"autonomy"`
	Sensitivity   float64 `json:"sensitivity"`
	Reversibility float64 `json:"reversibility"`
	Regulatory    float64 `json:"regulatory"`
}

// Factor weights. The weighted sum stays in [0,1].
const (
	weightImpact        = 0.25
	weightAutonomy      = 0.25
	weightSensitivity   = 0.20
	weightReversibility = 0.15
	weightRegulatory    = 0.15
)

// Tier cut points over the cumulative weighted score.
const (
	cutLow    = 0.25
	cutMedium = 0.50
	cutHigh   = 0.75
)

// Assessment is an immutable classification result.
type Assessment struct {
	Tier             Tier     `json:"tier"`
	Score            float64  `json:"score"`
	Factors          Factors  `json:"factors"`
	RequiresApproval Approval `json:"requires_approval"`
	Recommendations  []string `json:"recommendations"`
}

// Classify maps an action descriptor to a risk tier. Deterministic and
// side-effect free; fails only on malformed input.
func Classify(actionType string, f Factors) (Assessment, error) {
	if actionType == "" {
		return Assessment{}, fmt.Errorf("%w: action_type is required", contracts.ErrValidation)
	}
	if err := validateFactors(f); err != nil {
		return Assessment{}, err
	}

	score := weightImpact*f.Impact +
		weightAutonomy*f.Autonomy +
		weightSensitivity*f.Sensitivity +
		weightReversibility*f.Reversibility +
		weightRegulatory*f.Regulatory

	tier := tierFor(score)

	return Assessment{
		Tier:             tier,
		Score:            score,
		Factors:          f,
		RequiresApproval: ApprovalFor(tier),
		Recommendations:  recommendations(tier, f),
	}, nil
}

func validateFactors(f Factors) error {
	fields := map[string]float64{
		"impact":        f.Impact,
		"autonomy":      f.Autonomy,
		"sensitivity":   f.Sensitivity,
		"reversibility": f.Reversibility,
		"regulatory":    f.Regulatory,
	}
	for name, v := range fields {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("%w: factor %s must be in [0,1], got %v", contracts.ErrValidation, name, v)
		}
	}
	return nil
}

func tierFor(score float64) Tier {
	switch {
	case score <= cutLow:
		return TierLow
	case score <= cutMedium:
		return TierMedium
	case score <= cutHigh:
		return TierHigh
	default:
		return TierCritical
	}
}

// ApprovalFor is a pure function of tier.
func ApprovalFor(t Tier) Approval {
	switch t {
	case TierLow:
		return ApprovalAuto
	case TierMedium:
		return ApprovalTechnicalReview
	case TierHigh:
		return ApprovalMultiStakeholder
	default:
		return ApprovalFullVoteAudit
	}
}

func recommendations(tier Tier, f Factors) []string {
	var recs []string
	switch tier {
	case TierLow:
		recs = append(recs, "automated approval enabled, periodic review recommended")
	case TierMedium:
		recs = append(recs, "technical review required before deployment",
			"monitor performance metrics closely")
	case TierHigh:
		recs = append(recs, "multi-stakeholder review required",
			"ethics committee approval needed",
			"implement human oversight mechanisms")
	case TierCritical:
		recs = append(recs, "full governance vote required",
			"external audit mandatory",
			"implement fail-safe mechanisms",
			"continuous monitoring required")
	}
	if f.Sensitivity > 0.7 {
		recs = append(recs, "implement strong data encryption and access controls")
	}
	if f.Reversibility > 0.7 {
		recs = append(recs, "implement decision logging and audit trail")
	}
	if f.Autonomy > 0.7 {
		recs = append(recs, "implement human override capabilities")
	}
	return recs
}
