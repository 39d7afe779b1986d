package compare_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelscope/funnelscope/internal/compare"
)

func TestCompare_TwoArms_ClearWinner(t *testing.T) {
	arms := []compare.Arm{
		{FunnelID: "a", Name: "control", Entries: 1000, Conversions: 100},
		{FunnelID: "b", Name: "variant", Entries: 1000, Conversions: 160},
	}

	res, err := compare.Compare(arms, compare.DefaultConfig())
	require.NoError(t, err)

	assert.False(t, res.Inconclusive)
	assert.Equal(t, "variant", res.Winner)
	assert.Equal(t, "control", res.Baseline)
	require.Len(t, res.Pairs, 1)
	assert.True(t, res.Pairs[0].Significant)
	assert.InDelta(t, 0.06, res.Pairs[0].Diff, 1e-9)
}

func TestCompare_TieIsNotInconclusive(t *testing.T) {
	// Identical rates on large samples: confidently no difference, which
	// is a different outcome from "not enough data".
	arms := []compare.Arm{
		{FunnelID: "a", Name: "control", Entries: 5000, Conversions: 500},
		{FunnelID: "b", Name: "variant", Entries: 5000, Conversions: 500},
	}

	res, err := compare.Compare(arms, compare.DefaultConfig())
	require.NoError(t, err)

	assert.Empty(t, res.Winner)
	assert.False(t, res.Inconclusive)
}

func TestCompare_Underpowered(t *testing.T) {
	arms := []compare.Arm{
		{FunnelID: "a", Name: "control", Entries: 10, Conversions: 1},
		{FunnelID: "b", Name: "variant", Entries: 12, Conversions: 6},
	}

	res, err := compare.Compare(arms, compare.DefaultConfig())
	require.NoError(t, err)

	assert.True(t, res.Inconclusive)
	assert.Empty(t, res.Winner)
	assert.True(t, res.Arms[0].InsufficientSample)
}

func TestCompare_BaselineCanWin(t *testing.T) {
	arms := []compare.Arm{
		{FunnelID: "a", Name: "control", Entries: 1000, Conversions: 200},
		{FunnelID: "b", Name: "variant", Entries: 1000, Conversions: 120},
	}

	res, err := compare.Compare(arms, compare.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, "control", res.Winner)
}

func TestCompare_ThreeArms(t *testing.T) {
	arms := []compare.Arm{
		{FunnelID: "a", Name: "control", Entries: 1000, Conversions: 100},
		{FunnelID: "b", Name: "variant-b", Entries: 1000, Conversions: 105},
		{FunnelID: "c", Name: "variant-c", Entries: 1000, Conversions: 180},
	}

	res, err := compare.Compare(arms, compare.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, "variant-c", res.Winner)
	assert.Greater(t, res.OverallChi2, 0.0)
	assert.Less(t, res.OverallP, 0.05)
	require.Len(t, res.Pairs, 2)

	// The marginal variant should not be flagged after correction.
	assert.False(t, res.Pairs[0].Significant)
	assert.True(t, res.Pairs[1].Significant)
}

func TestCompare_NonBaselineIndex(t *testing.T) {
	arms := []compare.Arm{
		{FunnelID: "a", Name: "old", Entries: 1000, Conversions: 150},
		{FunnelID: "b", Name: "new", Entries: 1000, Conversions: 90},
	}
	cfg := compare.DefaultConfig()
	cfg.Baseline = 1

	res, err := compare.Compare(arms, cfg)
	require.NoError(t, err)

	assert.Equal(t, "new", res.Baseline)
	assert.Equal(t, "old", res.Winner)
}

func TestCompare_InputValidation(t *testing.T) {
	one := []compare.Arm{{Name: "only", Entries: 100, Conversions: 10}}
	_, err := compare.Compare(one, compare.DefaultConfig())
	assert.Error(t, err)

	two := []compare.Arm{
		{Name: "a", Entries: 100, Conversions: 10},
		{Name: "b", Entries: 100, Conversions: 10},
	}
	cfg := compare.DefaultConfig()
	cfg.Baseline = 5
	_, err = compare.Compare(two, cfg)
	assert.Error(t, err)

	cfg = compare.DefaultConfig()
	cfg.Confidence = 1.5
	_, err = compare.Compare(two, cfg)
	assert.Error(t, err)
}
