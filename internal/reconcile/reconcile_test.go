package reconcile

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/wildfire-cli/internal/identity"
	"github.com/sells-group/wildfire-cli/internal/model"
)

var (
	fixedNow = time.Date(2025, 7, 14, 18, 30, 0, 0, time.UTC)
	center   = model.NewDispatchCenter("CAANCC", "Alpha", "", "", fixedNow)
)

func newReconciler() *Reconciler {
	r := New(clockwork.NewFakeClockAt(fixedNow), zap.NewNop())
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("occ-%d", n)
	}
	return r
}

func TestNormalize_Fields(t *testing.T) {
	raw := model.RawIncident{
		Number:    "2025-001",
		Name:      "Ridge Fire",
		Type:      "Wildfire",
		Status:    "Active",
		Date:      "07/14/25 1342",
		Location:  "Ridge Rd",
		LatLong:   "39.1234, -120.5678",
		Resources: "E21",
		Acres:     "1,250.5 ac",
		Payload:   json.RawMessage(`{"incident_number":"2025-001"}`),
	}
	inc := Normalize(center, raw, "occ", fixedNow)

	assert.Equal(t, identity.IncidentIdentity("CAANCC", "2025-001", "Ridge Fire", "Active"), inc.Identity)
	assert.Equal(t, "91807f23-fa9c-517c-aac6-8808e227330c", inc.Identity)
	assert.Equal(t, center.ID, inc.CenterID)
	assert.Equal(t, "occ", inc.OccurrenceID)
	require.NotNil(t, inc.ObservedAt)
	assert.Equal(t, time.Date(2025, 7, 14, 13, 42, 0, 0, time.UTC), *inc.ObservedAt)
	require.NotNil(t, inc.Acres)
	assert.InDelta(t, 1250.5, *inc.Acres, 1e-9)
	require.NotNil(t, inc.Latitude)
	assert.InDelta(t, 39.1234, *inc.Latitude, 1e-9)
	assert.InDelta(t, -120.5678, *inc.Longitude, 1e-9)
	assert.JSONEq(t, `{"incident_number":"2025-001"}`, string(inc.RawPayload))
	assert.Equal(t, fixedNow, inc.IngestedAt)
}

func TestNormalize_NumericCoordinatesPreferred(t *testing.T) {
	lat, lon := 40.0, -121.0
	raw := model.RawIncident{Number: "1", Latitude: &lat, Longitude: &lon, LatLong: "39.5, -120.5"}
	inc := Normalize(center, raw, "occ", fixedNow)
	assert.InDelta(t, 40.0, *inc.Latitude, 1e-9)
	assert.InDelta(t, -121.0, *inc.Longitude, 1e-9)
}

func TestNormalize_UnparsableFieldsAreNil(t *testing.T) {
	raw := model.RawIncident{Number: "1", Date: "yesterday-ish", Acres: "unknown", LatLong: "n/a"}
	inc := Normalize(center, raw, "occ", fixedNow)
	assert.Nil(t, inc.ObservedAt)
	assert.Nil(t, inc.Acres)
	assert.Nil(t, inc.Latitude)
	assert.Nil(t, inc.Longitude)

	// Without a verbatim payload the raw row itself is kept.
	var kept map[string]any
	require.NoError(t, json.Unmarshal(inc.RawPayload, &kept))
	assert.Equal(t, "yesterday-ish", kept["date"])
}

func TestParseDate_Layouts(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"07/14/25 1342", time.Date(2025, 7, 14, 13, 42, 0, 0, time.UTC)},
		{"07/14/2025 13:42", time.Date(2025, 7, 14, 13, 42, 0, 0, time.UTC)},
		{"2025-07-14 13:42:05", time.Date(2025, 7, 14, 13, 42, 5, 0, time.UTC)},
		{"07/14/2025", time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)},
		{"2025-07-14T13:42:00Z", time.Date(2025, 7, 14, 13, 42, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseDate(tt.in)
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %s", got)
		})
	}
	assert.Nil(t, ParseDate(""))
}

func TestParseAcres(t *testing.T) {
	assert.InDelta(t, 12.0, *ParseAcres("12"), 1e-9)
	assert.InDelta(t, 3400.0, *ParseAcres("approx 3,400 acres"), 1e-9)
	assert.Nil(t, ParseAcres(""))
}

func TestReconcile_StatusChangeYieldsNewIdentity(t *testing.T) {
	r := newReconciler()
	active := r.Reconcile(center, []model.RawIncident{{Number: "2025-001", Name: "Ridge Fire", Status: "Active"}})
	contained := r.Reconcile(center, []model.RawIncident{{Number: "2025-001", Name: "Ridge Fire", Status: "Contained"}})

	require.Len(t, active, 1)
	require.Len(t, contained, 1)
	assert.NotEqual(t, active[0].Identity, contained[0].Identity)
	assert.Equal(t, "77618733-1543-5f9e-9653-14c87957a08c", contained[0].Identity)
}

func TestReconcile_DuplicatesCollapseToLast(t *testing.T) {
	r := newReconciler()
	out := r.Reconcile(center, []model.RawIncident{
		{Number: "1", Name: "A", Status: "Active", Acres: "5"},
		{Number: "2", Name: "B", Status: "Active"},
		{Number: "1", Name: "A", Status: "Active", Acres: "9"},
		{},
	})

	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].Number)
	assert.InDelta(t, 9.0, *out[0].Acres, 1e-9)
	assert.Equal(t, "occ-3", out[0].OccurrenceID)
	assert.Equal(t, "2", out[1].Number)
}

func TestReconcile_OccurrenceIDsDiffer(t *testing.T) {
	r := New(nil, zap.NewNop())
	rows := []model.RawIncident{{Number: "1", Status: "Active"}}
	a := r.Reconcile(center, rows)
	b := r.Reconcile(center, rows)
	assert.Equal(t, a[0].Identity, b[0].Identity)
	assert.NotEqual(t, a[0].OccurrenceID, b[0].OccurrenceID)
}

func TestReconcile_LogsUnparsedDate(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := New(clockwork.NewFakeClockAt(fixedNow), zap.New(core))

	out := r.Reconcile(center, []model.RawIncident{
		{Number: "1", Name: "Ridge", Date: "yesterday-ish"},
		{Number: "2", Name: "Creek", Date: "07/01/25 1300"},
		{Number: "3", Name: "Flat"},
	})
	require.Len(t, out, 3)

	entries := logs.FilterMessage("unparsed incident date").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "yesterday-ish", entries[0].ContextMap()["date"])
	assert.Equal(t, "1", entries[0].ContextMap()["number"])
}
