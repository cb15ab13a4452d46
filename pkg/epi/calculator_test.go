package epi

import (
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microai-dao/trustcore/pkg/contracts"
)

func TestScoreBalancedAction(t *testing.T) {
	calc := NewCalculator(0)

	res, err := calc.Score(Inputs{Profit: 0.75, Ethics: 0.85})
	require.NoError(t, err)

	// H = 2*0.75*0.85/1.6, B = 1 - phi'*0.1, T = 1
	assert.InDelta(t, 0.796875, res.Components.HarmonicMean, 1e-9)
	assert.InDelta(t, 0.9381966011250105, res.Components.BalancePenalty, 1e-9)
	assert.Equal(t, 1.0, res.Components.Trust)
	assert.InDelta(t, 0.7476, res.Score, 1e-3)
	assert.True(t, res.IsValid)
	assert.Equal(t, "approved", res.Reason)
}

func TestScoreIsReproducible(t *testing.T) {
	calc := NewCalculator(0)
	in := Inputs{Profit: 0.63, Ethics: 0.71, Violations: []float64{0.12, 0.05}}

	a, err := calc.Score(in)
	require.NoError(t, err)
	b, err := calc.Score(in)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestScoreSymmetricInProfitAndEthics(t *testing.T) {
	calc := NewCalculator(0)

	a, err := calc.Score(Inputs{Profit: 0.9, Ethics: 0.3})
	require.NoError(t, err)
	b, err := calc.Score(Inputs{Profit: 0.3, Ethics: 0.9})
	require.NoError(t, err)

	assert.Equal(t, a.Score, b.Score)
	assert.Equal(t, a.Components.HarmonicMean, b.Components.HarmonicMean)
	assert.Equal(t, a.Components.BalancePenalty, b.Components.BalancePenalty)
}

func TestScoreZeroComponentDominates(t *testing.T) {
	calc := NewCalculator(0)

	res, err := calc.Score(Inputs{Profit: 0, Ethics: 0.9})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Score)
	assert.False(t, res.IsValid)

	res, err = calc.Score(Inputs{Profit: 0.9, Ethics: 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, "rejected: ethical component too low", res.Reason)
}

func TestTrustDecay(t *testing.T) {
	calc := NewCalculator(0)

	res, err := calc.Score(Inputs{Profit: 0.8, Ethics: 0.8})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Components.Trust)

	res, err = calc.Score(Inputs{Profit: 0.8, Ethics: 0.8, Violations: []float64{0.1, 0.2}})
	require.NoError(t, err)
	assert.InDelta(t, 0.72, res.Components.Trust, 1e-9)

	// A total violation collapses trust to exactly zero.
	res, err = calc.Score(Inputs{Profit: 0.8, Ethics: 0.8, Violations: []float64{1.0}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Components.Trust)
	assert.Equal(t, 0.0, res.Score)
}

func TestConfidenceIsHarmonicWithTrust(t *testing.T) {
	calc := NewCalculator(0)

	res, err := calc.Score(Inputs{Profit: 0.8, Ethics: 0.8})
	require.NoError(t, err)
	assert.InDelta(t, 2*0.7/1.7, res.Confidence, 1e-9)

	res, err = calc.Score(Inputs{Profit: 0.8, Ethics: 0.8, Violations: []float64{1.0}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestGoldenRatioDeviation(t *testing.T) {
	calc := NewCalculator(0)

	res, err := calc.Score(Inputs{Profit: 0.809016994374948, Ethics: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.GoldenRatioDeviation, 1e-9)

	// The inverse ratio is just as golden.
	res, err = calc.Score(Inputs{Profit: 0.5, Ethics: 0.809016994374948})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.GoldenRatioDeviation, 1e-9)

	res, err = calc.Score(Inputs{Profit: 0.5, Ethics: 0})
	require.NoError(t, err)
	assert.True(t, math.IsInf(res.GoldenRatioDeviation, 1))
	assert.Equal(t, 0.0, res.Components.BalanceRatio)
}

func TestValidationRejectsOutOfRange(t *testing.T) {
	calc := NewCalculator(0)

	cases := []Inputs{
		{Profit: 1.5, Ethics: 0.5},
		{Profit: -0.1, Ethics: 0.5},
		{Profit: 0.5, Ethics: 2},
		{Profit: 0.5, Ethics: 0.5, Violations: []float64{-0.2}},
		{Profit: 0.5, Ethics: 0.5, Violations: []float64{1.1}},
		{Profit: math.NaN(), Ethics: 0.5},
		{Profit: 0.5, Ethics: 0.5, ComplianceScore: 7},
	}
	for _, in := range cases {
		_, err := calc.Score(in)
		require.Error(t, err)
		assert.True(t, errors.Is(err, contracts.ErrValidation), "want ErrValidation, got %v", err)
	}
}

func TestRejectionReasons(t *testing.T) {
	calc := NewCalculator(0)

	res, err := calc.Score(Inputs{Profit: 0.9, Ethics: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "rejected: ethical component too low", res.Reason)

	res, err = calc.Score(Inputs{Profit: 0.2, Ethics: 0.9})
	require.NoError(t, err)
	assert.Equal(t, "rejected: profitability component too low", res.Reason)

	res, err = calc.Score(Inputs{Profit: 0.9, Ethics: 0.9, Violations: []float64{0.4, 0.4}})
	require.NoError(t, err)
	assert.Equal(t, "rejected: trust compromised by violations", res.Reason)
}

func TestSuggestionsRankedAndCapped(t *testing.T) {
	calc := NewCalculator(0)

	res, err := calc.Score(Inputs{Profit: 0.5, Ethics: 0.3, Violations: []float64{0.3}})
	require.NoError(t, err)
	assert.NotEmpty(t, res.OptimizationSuggestions)
	assert.LessOrEqual(t, len(res.OptimizationSuggestions), 3)

	// Clearing the violation restores the trust factor outright, the
	// biggest marginal gain here.
	assert.Contains(t, res.OptimizationSuggestions[0], "violations")
	assert.Contains(t, res.OptimizationSuggestions[1], "ethics")
}

func TestThresholdDefault(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewCalculator(0).Threshold())
	assert.Equal(t, DefaultThreshold, NewCalculator(-1).Threshold())
	assert.Equal(t, 0.5, NewCalculator(0.5).Threshold())
}

func TestScoreSymmetryProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	calc := NewCalculator(0)

	properties.Property("score is symmetric in profit and ethics", prop.ForAll(
		func(p, e float64) bool {
			a, err1 := calc.Score(Inputs{Profit: p, Ethics: e})
			b, err2 := calc.Score(Inputs{Profit: e, Ethics: p})
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return a.Score == b.Score
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.Property("score stays in [0,1]", prop.ForAll(
		func(p, e, v float64) bool {
			res, err := calc.Score(Inputs{Profit: p, Ethics: e, Violations: []float64{v}})
			if err != nil {
				return false
			}
			return res.Score >= 0 && res.Score <= 1
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
