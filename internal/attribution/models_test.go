package attribution_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelscope/funnelscope/internal/activity"
	"github.com/funnelscope/funnelscope/internal/attribution"
)

var conversion = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

func journey() []activity.Touchpoint {
	return []activity.Touchpoint{
		{Identity: "u-1", Source: "google", Medium: "organic", OccurredAt: conversion.Add(-14 * 24 * time.Hour)},
		{Identity: "u-1", Source: "newsletter", Medium: "email", OccurredAt: conversion.Add(-7 * 24 * time.Hour)},
		{Identity: "u-1", Source: "google", Medium: "cpc", Campaign: "spring", OccurredAt: conversion.Add(-24 * time.Hour)},
	}
}

func sumOf(ws []float64) float64 {
	total := 0.0
	for _, w := range ws {
		total += w
	}
	return total
}

func TestWeights_SumToOne(t *testing.T) {
	configs := []attribution.Config{
		{Model: attribution.FirstTouch},
		{Model: attribution.LastTouch},
		{Model: attribution.Linear},
		{Model: attribution.TimeDecay, HalfLife: 7 * 24 * time.Hour},
		{Model: attribution.Custom, CustomWeights: []float64{0.4, 0.2, 0.4}},
	}

	for _, cfg := range configs {
		ws := attribution.Weights(journey(), conversion, cfg)
		require.Len(t, ws, 3, cfg.Model)
		assert.InDelta(t, 1.0, sumOf(ws), 1e-9, cfg.Model)
	}
}

func TestWeights_FirstAndLastTouch(t *testing.T) {
	first := attribution.Weights(journey(), conversion, attribution.Config{Model: attribution.FirstTouch})
	assert.Equal(t, []float64{1, 0, 0}, first)

	last := attribution.Weights(journey(), conversion, attribution.Config{Model: attribution.LastTouch})
	assert.Equal(t, []float64{0, 0, 1}, last)
}

func TestWeights_Linear(t *testing.T) {
	ws := attribution.Weights(journey(), conversion, attribution.Config{Model: attribution.Linear})
	for _, w := range ws {
		assert.InDelta(t, 1.0/3.0, w, 1e-9)
	}
}

func TestWeights_TimeDecayFavorsRecent(t *testing.T) {
	ws := attribution.Weights(journey(), conversion, attribution.Config{
		Model: attribution.TimeDecay, HalfLife: 7 * 24 * time.Hour,
	})

	assert.Greater(t, ws[2], ws[1])
	assert.Greater(t, ws[1], ws[0])

	// One half-life between the 14-day and 7-day touches doubles the weight.
	assert.InDelta(t, 2.0, ws[1]/ws[0], 1e-9)
}

func TestWeights_Empty(t *testing.T) {
	assert.Nil(t, attribution.Weights(nil, conversion, attribution.Config{Model: attribution.Linear}))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, attribution.Config{Model: attribution.Linear}.Validate())
	assert.Error(t, attribution.Config{Model: attribution.TimeDecay}.Validate())
	assert.Error(t, attribution.Config{Model: attribution.Custom}.Validate())
	assert.Error(t, attribution.Config{Model: attribution.Custom, CustomWeights: []float64{0, 0}}.Validate())
	assert.Error(t, attribution.Config{Model: attribution.Custom, CustomWeights: []float64{-1, 2}}.Validate())
	assert.Error(t, attribution.Config{Model: "made_up"}.Validate())
}

func TestAttribute(t *testing.T) {
	sequences := map[string][]activity.Touchpoint{
		"u-1": journey(),
		"u-2": {
			{Identity: "u-2", Source: "twitter", Medium: "social", OccurredAt: conversion.Add(-time.Hour)},
		},
	}
	conversions := map[string]time.Time{"u-1": conversion, "u-2": conversion}

	report, err := attribution.Attribute(sequences, conversions, attribution.Config{Model: attribution.Linear})
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalConversions)

	// Total attributed credit equals the number of attributable conversions.
	total := 0.0
	for _, c := range report.Credits {
		total += c.Conversions
	}
	assert.InDelta(t, 2.0, total, 1e-9)

	byChannel := make(map[string]attribution.Credit)
	for _, c := range report.Credits {
		byChannel[c.Channel] = c
	}
	assert.InDelta(t, 1.0, byChannel["twitter/social"].Conversions, 1e-9)
	assert.InDelta(t, 1.0/3.0, byChannel["newsletter/email"].Conversions, 1e-9)
	assert.InDelta(t, 1.0/3.0, byChannel["google/organic"].Conversions, 1e-9)
	assert.InDelta(t, 1.0/3.0, byChannel["google/cpc/spring"].Conversions, 1e-9)
}

func TestAttribute_ConversionWithoutTouchpoints(t *testing.T) {
	conversions := map[string]time.Time{"u-1": conversion}

	report, err := attribution.Attribute(nil, conversions, attribution.Config{Model: attribution.FirstTouch})
	require.NoError(t, err)

	assert.Equal(t, 1, report.TotalConversions)
	assert.Empty(t, report.Credits)
}

func TestAttribute_RejectsBadConfig(t *testing.T) {
	_, err := attribution.Attribute(nil, nil, attribution.Config{Model: attribution.TimeDecay})
	assert.Error(t, err)
}

func TestCompareModels(t *testing.T) {
	sequences := map[string][]activity.Touchpoint{"u-1": journey()}
	conversions := map[string]time.Time{"u-1": conversion}

	reports, err := attribution.CompareModels(sequences, conversions, []attribution.Config{
		{Model: attribution.FirstTouch},
		{Model: attribution.LastTouch},
	})
	require.NoError(t, err)
	require.Len(t, reports, 2)

	// First touch credits organic search; last touch credits paid search.
	assert.Equal(t, "google/organic", reports[attribution.FirstTouch].Credits[0].Channel)
	assert.Equal(t, "google/cpc/spring", reports[attribution.LastTouch].Credits[0].Channel)
}
