package funnel_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelscope/funnelscope/internal/funnel"
)

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"7d", 7 * 24 * time.Hour},
		{"1.5d", 36 * time.Hour},
		{"72h", 72 * time.Hour},
		{"30m", 30 * time.Minute},
	}
	for _, tt := range tests {
		got, err := funnel.ParseWindow(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseWindow_Invalid(t *testing.T) {
	for _, in := range []string{"", "soon", "7x"} {
		_, err := funnel.ParseWindow(in)
		assert.Error(t, err, in)
	}
}

func TestLoadFile(t *testing.T) {
	raw := `name: checkout
window: 7d
steps:
  - order: 0
    kind: start
    label: landing
    rules:
      - kind: page
        field: path
        operator: equals
        value: /
  - order: 1
    kind: decision
    label: checkout
    rules:
      - kind: event
        value: checkout_started
      - kind: event
        value: cart_abandoned
        disqualify: true
  - order: 2
    kind: conversion
    label: purchase
    rules:
      - kind: event
        value: purchase
        filters:
          - property: total
            operator: gt
            value: "0"
`
	path := filepath.Join(t.TempDir(), "checkout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	def, err := funnel.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "checkout", def.Name)
	assert.Equal(t, 7*24*time.Hour, def.Window)
	assert.Equal(t, funnel.StateDraft, def.State)
	require.Len(t, def.Steps, 3)
	assert.True(t, def.Steps[1].Rules[1].Disqualify)
	require.Len(t, def.Steps[2].Rules[0].Filters, 1)
	assert.Equal(t, funnel.OpGreaterThan, def.Steps[2].Rules[0].Filters[0].Operator)

	assert.NoError(t, funnel.Validate(def))
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := funnel.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
