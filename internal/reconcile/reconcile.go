// Package reconcile turns raw extracted rows into normalized incidents ready
// for storage.
package reconcile

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/identity"
	"github.com/sells-group/wildfire-cli/internal/model"
)

// dateLayouts are tried in order; the first that parses wins.
var dateLayouts = []string{
	"01/02/06 1504",
	"01/02/2006 15:04",
	"2006-01-02 15:04:05",
	"01/02/2006",
	time.RFC3339,
}

var (
	acresRe   = regexp.MustCompile(`[\d,]+\.?\d*`)
	latLongRe = regexp.MustCompile(`(-?\d+\.\d+)[,\s]+(-?\d+\.\d+)`)
)

// Reconciler normalizes batches of raw rows for one center.
type Reconciler struct {
	clock clockwork.Clock
	log   *zap.Logger
	newID func() string
}

// New creates a Reconciler. A nil clock uses the real clock.
func New(clk clockwork.Clock, log *zap.Logger) *Reconciler {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Reconciler{
		clock: clk,
		log:   log.With(zap.String("component", "reconcile")),
		newID: identity.NewOccurrenceID,
	}
}

// Reconcile normalizes rows for center. Rows without a number or name are
// dropped. Rows that share an identity collapse to the last one, kept at the
// position of the first.
func (r *Reconciler) Reconcile(center model.DispatchCenter, rows []model.RawIncident) []model.Incident {
	now := r.clock.Now().UTC()
	out := make([]model.Incident, 0, len(rows))
	pos := make(map[string]int, len(rows))

	for _, raw := range rows {
		if !raw.HasKey() {
			continue
		}
		inc := Normalize(center, raw, r.newID(), now)
		if inc.ObservedAt == nil && strings.TrimSpace(raw.Date) != "" {
			r.log.Debug("unparsed incident date",
				zap.String("center", center.Code),
				zap.String("number", raw.Number),
				zap.String("date", raw.Date),
			)
		}
		if i, ok := pos[inc.Identity]; ok {
			out[i] = inc
			continue
		}
		pos[inc.Identity] = len(out)
		out = append(out, inc)
	}

	if dropped := len(rows) - len(out); dropped > 0 {
		r.log.Debug("collapsed or dropped rows",
			zap.String("center", center.Code),
			zap.Int("rows", len(rows)),
			zap.Int("incidents", len(out)),
		)
	}
	return out
}

// Normalize maps one raw row to an incident.
func Normalize(center model.DispatchCenter, raw model.RawIncident, occurrenceID string, ingestedAt time.Time) model.Incident {
	lat, lon := raw.Latitude, raw.Longitude
	if lat == nil || lon == nil {
		if pl, pn, ok := ParseLatLong(raw.LatLong); ok {
			lat, lon = &pl, &pn
		}
	}

	return model.Incident{
		OccurrenceID: occurrenceID,
		CenterID:     center.ID,
		CenterCode:   center.Code,
		Identity:     identity.IncidentIdentity(center.Code, raw.Number, raw.Name, raw.Status),
		Number:       raw.Number,
		Fiscal:       raw.Fiscal,
		Name:         raw.Name,
		Type:         raw.Type,
		Status:       raw.Status,
		ObservedAt:   ParseDate(raw.Date),
		Location:     raw.Location,
		Latitude:     lat,
		Longitude:    lon,
		Resources:    raw.Resources,
		Acres:        ParseAcres(raw.Acres),
		Comments:     raw.Comments,
		RawPayload:   payloadOf(raw),
		IngestedAt:   ingestedAt,
		Enrichment:   raw.Enrichment,
	}
}

// ParseDate parses the upstream date formats, returning nil when none match.
// The unparsed text stays in the incident's raw payload.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

// ParseAcres returns the first number in s with thousands separators removed.
func ParseAcres(s string) *float64 {
	m := acresRe.FindString(s)
	if m == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return nil
	}
	return &f
}

// ParseLatLong reads a "lat, long" pair from free text.
func ParseLatLong(s string) (lat, lon float64, ok bool) {
	m := latLongRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lon, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

func payloadOf(raw model.RawIncident) json.RawMessage {
	if len(raw.Payload) > 0 {
		return raw.Payload
	}
	b, _ := json.Marshal(raw)
	return b
}
