// Package store persists dispatch centers, incidents, incident observation
// history and the advisory API endpoint cache.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/wildfire-cli/internal/config"
	"github.com/sells-group/wildfire-cli/internal/db"
	"github.com/sells-group/wildfire-cli/internal/model"
)

// Store defines the persistence interface for the ingestion engine.
type Store interface {
	// Centers
	UpsertCenters(ctx context.Context, centers []model.DispatchCenter) error
	ListCenters(ctx context.Context) ([]model.DispatchCenter, error)

	// Incidents. UpsertIncidents writes one observation row per incident in
	// the same transaction.
	UpsertIncidents(ctx context.Context, incidents []model.Incident) error
	GetIncident(ctx context.Context, identity string) (*model.Incident, error)
	IncidentHistory(ctx context.Context, identity string) ([]model.Observation, error)

	// Reporting
	StateSummary(ctx context.Context) ([]model.StateCount, error)
	CenterIncidentCounts(ctx context.Context) ([]model.CenterCount, error)

	// Endpoint cache
	GetEndpoint(ctx context.Context, centerCode string) (*model.Endpoint, error)
	PutEndpoint(ctx context.Context, ep model.Endpoint) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Error reports a failed store operation. Any partial write has been rolled
// back.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

var (
	centerUpsert = db.UpsertConfig{
		Table:        "dispatch_centers",
		Columns:      []string{"code", "center_id", "name", "state", "status", "source_url", "last_updated"},
		ConflictKeys: []string{"code"},
	}
	incidentUpsert = db.UpsertConfig{
		Table: "incidents",
		Columns: []string{
			"incident_identity", "occurrence_id", "center_id", "incident_number", "fiscal", "name", "type",
			"status", "observed_at", "location", "latitude", "longitude", "resources", "acres", "comments",
			"raw_payload", "ingested_at", "fire_number", "source_uuid", "command", "fuels", "fiscal_code",
			"fiscal_data",
		},
		ConflictKeys: []string{"incident_identity"},
	}
	endpointUpsert = db.UpsertConfig{
		Table:        "api_endpoints",
		Columns:      []string{"center_code", "url", "last_success"},
		ConflictKeys: []string{"center_code"},
	}
	observationColumns = []string{
		"occurrence_id", "incident_identity", "center_id", "incident_number", "name", "status",
		"observed_at", "acres", "resources", "comments", "raw_payload", "ingested_at",
	}
)

const (
	centerSelect = `SELECT center_id, code, name, state, status, source_url, last_updated FROM dispatch_centers`

	incidentSelect = `SELECT i.incident_identity, i.occurrence_id, i.center_id, c.code, i.incident_number, i.fiscal,
	i.name, i.type, i.status, i.observed_at, i.location, i.latitude, i.longitude, i.resources, i.acres,
	i.comments, i.raw_payload, i.ingested_at, i.fire_number, i.source_uuid, i.command, i.fuels,
	i.fiscal_code, i.fiscal_data
FROM incidents i JOIN dispatch_centers c ON c.center_id = i.center_id`

	// historySelect returns every observation of the incident behind an
	// identity, across status changes.
	historySelect = `SELECT o.occurrence_id, o.incident_identity, o.center_id, o.incident_number, o.name, o.status,
	o.observed_at, o.acres, o.resources, o.comments, o.raw_payload, o.ingested_at
FROM incident_observations o
JOIN incidents i ON i.center_id = o.center_id AND i.incident_number = o.incident_number AND i.name = o.name`

	stateSummarySQL = `SELECT COALESCE(state, ''), COUNT(*) FROM dispatch_centers GROUP BY state ORDER BY state`

	centerCountsSQL = `SELECT c.code, COALESCE(c.name, ''), COALESCE(c.state, ''), COUNT(i.incident_identity)
FROM dispatch_centers c LEFT JOIN incidents i ON i.center_id = c.center_id
GROUP BY c.code, c.name, c.state ORDER BY c.code`
)

func joinCols(cols []string) string { return strings.Join(cols, ", ") }

func placeholderList(n int, ph db.Placeholder) string {
	out := make([]string, n)
	for i := range out {
		out[i] = ph(i + 1)
	}
	return strings.Join(out, ", ")
}

func centerArgs(c model.DispatchCenter) []any {
	return []any{c.Code, c.ID, nullString(c.Name), nullString(c.State), nullString(c.Status), nullString(c.SourceURL), c.LastUpdated.UTC()}
}

func incidentArgs(inc model.Incident) []any {
	e := inc.Enrichment
	return []any{
		inc.Identity, inc.OccurrenceID, inc.CenterID, inc.Number, nullString(inc.Fiscal), inc.Name,
		nullString(inc.Type), inc.Status, nullTime(inc.ObservedAt), nullString(inc.Location),
		nullFloat(inc.Latitude), nullFloat(inc.Longitude), nullString(inc.Resources), nullFloat(inc.Acres),
		nullString(inc.Comments), payloadString(inc.RawPayload), inc.IngestedAt.UTC(), nullString(e.FireNumber),
		nullString(e.SourceUUID), nullString(e.Command), nullString(e.Fuels), nullString(e.FiscalCode),
		nullJSON(e.FiscalData),
	}
}

func observationArgs(o model.Observation) []any {
	return []any{
		o.OccurrenceID, o.Identity, o.CenterID, o.Number, o.Name, o.Status, nullTime(o.ObservedAt),
		nullFloat(o.Acres), nullString(o.Resources), nullString(o.Comments), payloadString(o.RawPayload),
		o.IngestedAt.UTC(),
	}
}

func endpointArgs(ep model.Endpoint) []any {
	return []any{ep.CenterCode, ep.URL, ep.LastSuccess.UTC()}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func payloadString(b json.RawMessage) string {
	if len(b) == 0 {
		return "{}"
	}
	return string(b)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCenter(row scannable) (model.DispatchCenter, error) {
	var c model.DispatchCenter
	var name, state, status, sourceURL sql.NullString
	if err := row.Scan(&c.ID, &c.Code, &name, &state, &status, &sourceURL, &c.LastUpdated); err != nil {
		return c, err
	}
	c.Name, c.State, c.Status, c.SourceURL = name.String, state.String, status.String, sourceURL.String
	return c, nil
}

func scanIncident(row scannable) (*model.Incident, error) {
	var inc model.Incident
	var (
		fiscal, typ, location, resources, comments        sql.NullString
		fireNumber, sourceUUID, command, fuels, fiscalCode sql.NullString
		fiscalData                                         sql.NullString
		payload                                            string
		observedAt                                         sql.NullTime
		lat, lon, acres                                    sql.NullFloat64
	)
	err := row.Scan(
		&inc.Identity, &inc.OccurrenceID, &inc.CenterID, &inc.CenterCode, &inc.Number, &fiscal,
		&inc.Name, &typ, &inc.Status, &observedAt, &location, &lat, &lon, &resources, &acres,
		&comments, &payload, &inc.IngestedAt, &fireNumber, &sourceUUID, &command, &fuels,
		&fiscalCode, &fiscalData,
	)
	if err != nil {
		return nil, err
	}
	inc.Fiscal, inc.Type, inc.Location = fiscal.String, typ.String, location.String
	inc.Resources, inc.Comments = resources.String, comments.String
	inc.ObservedAt = timePtr(observedAt)
	inc.Latitude, inc.Longitude, inc.Acres = floatPtr(lat), floatPtr(lon), floatPtr(acres)
	inc.RawPayload = json.RawMessage(payload)
	inc.Enrichment = model.Enrichment{
		FireNumber: fireNumber.String,
		SourceUUID: sourceUUID.String,
		Command:    command.String,
		Fuels:      fuels.String,
		FiscalCode: fiscalCode.String,
	}
	if fiscalData.Valid {
		inc.Enrichment.FiscalData = json.RawMessage(fiscalData.String)
	}
	return &inc, nil
}

func scanObservation(row scannable) (model.Observation, error) {
	var o model.Observation
	var resources, comments sql.NullString
	var observedAt sql.NullTime
	var acres sql.NullFloat64
	var payload string
	err := row.Scan(&o.OccurrenceID, &o.Identity, &o.CenterID, &o.Number, &o.Name, &o.Status,
		&observedAt, &acres, &resources, &comments, &payload, &o.IngestedAt)
	if err != nil {
		return o, err
	}
	o.ObservedAt = timePtr(observedAt)
	o.Acres = floatPtr(acres)
	o.Resources, o.Comments = resources.String, comments.String
	o.RawPayload = json.RawMessage(payload)
	return o, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
