package activity_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelscope/funnelscope/internal/activity"
)

func TestRecordValidate(t *testing.T) {
	valid := activity.Record{
		ID: "r-1", Identity: "u-1", Kind: activity.KindPageView,
		Timestamp: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.ID = ""
	assert.ErrorIs(t, missing.Validate(), activity.ErrMissingID)

	missing = valid
	missing.Identity = ""
	assert.ErrorIs(t, missing.Validate(), activity.ErrMissingIdentity)

	missing = valid
	missing.Timestamp = time.Time{}
	assert.ErrorIs(t, missing.Validate(), activity.ErrMissingTimestamp)

	missing = valid
	missing.Kind = "click"
	assert.ErrorIs(t, missing.Validate(), activity.ErrUnknownKind)
}

func TestTouchpointChannel(t *testing.T) {
	tests := []struct {
		tp   activity.Touchpoint
		want string
	}{
		{activity.Touchpoint{Source: "google"}, "google"},
		{activity.Touchpoint{Source: "google", Medium: "cpc"}, "google/cpc"},
		{activity.Touchpoint{Source: "google", Medium: "cpc", Campaign: "spring"}, "google/cpc/spring"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.tp.Channel())
	}
}

func TestDecodeRecords(t *testing.T) {
	input := `{"id":"r-1","identity":"u-1","kind":"page_view","timestamp":"2026-03-02T10:00:00Z","path":"/"}

{"id":"r-2","identity":"u-1","kind":"event","name":"signup","timestamp":"2026-03-02T10:05:00Z","props":{"plan":"pro"}}
not json at all
`

	recs, skipped, err := activity.DecodeRecords(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 1, skipped)
	require.Len(t, recs, 2)
	assert.Equal(t, "r-1", recs[0].ID)
	assert.Equal(t, activity.KindPageView, recs[0].Kind)
	assert.Equal(t, "signup", recs[1].Name)
	assert.Equal(t, "pro", recs[1].Props["plan"])
}

func TestDecodeRecords_Empty(t *testing.T) {
	recs, skipped, err := activity.DecodeRecords(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Zero(t, skipped)
}

func TestDecodeTouchpoints(t *testing.T) {
	input := `{"identity":"u-1","source":"google","medium":"cpc","occurredAt":"2026-03-01T09:00:00Z"}
{"source":"missing-identity","occurredAt":"2026-03-01T09:00:00Z"}
{"identity":"u-2","source":"newsletter"}
`

	tps, skipped, err := activity.DecodeTouchpoints(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 2, skipped, "missing identity and missing timestamp are skipped")
	require.Len(t, tps, 1)
	assert.Equal(t, "google/cpc", tps[0].Channel())
}
