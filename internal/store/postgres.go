package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/wildfire-cli/internal/db"
	"github.com/sells-group/wildfire-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, cfg db.PoolConfig) (*PostgresStore, error) {
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}
	if cfg.MinConns == 0 {
		cfg.MinConns = 2
	}
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS dispatch_centers (
	code         TEXT PRIMARY KEY,
	center_id    TEXT NOT NULL UNIQUE,
	name         TEXT,
	state        TEXT,
	status       TEXT,
	source_url   TEXT,
	last_updated TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS incidents (
	incident_identity TEXT PRIMARY KEY,
	occurrence_id     TEXT NOT NULL,
	center_id         TEXT NOT NULL REFERENCES dispatch_centers(center_id),
	incident_number   TEXT NOT NULL DEFAULT '',
	fiscal            TEXT,
	name              TEXT NOT NULL DEFAULT '',
	type              TEXT,
	status            TEXT NOT NULL,
	observed_at       TIMESTAMPTZ,
	location          TEXT,
	latitude          DOUBLE PRECISION,
	longitude         DOUBLE PRECISION,
	resources         TEXT,
	acres             DOUBLE PRECISION,
	comments          TEXT,
	raw_payload       JSONB NOT NULL,
	ingested_at       TIMESTAMPTZ NOT NULL,
	fire_number       TEXT,
	source_uuid       TEXT,
	command           TEXT,
	fuels             TEXT,
	fiscal_code       TEXT,
	fiscal_data       JSONB
);

CREATE TABLE IF NOT EXISTS incident_observations (
	id                BIGSERIAL PRIMARY KEY,
	occurrence_id     TEXT NOT NULL,
	incident_identity TEXT NOT NULL REFERENCES incidents(incident_identity),
	center_id         TEXT NOT NULL,
	incident_number   TEXT NOT NULL DEFAULT '',
	name              TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	observed_at       TIMESTAMPTZ,
	acres             DOUBLE PRECISION,
	resources         TEXT,
	comments          TEXT,
	raw_payload       JSONB NOT NULL,
	ingested_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS api_endpoints (
	center_code  TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	last_success TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_incidents_center_id ON incidents(center_id);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
CREATE INDEX IF NOT EXISTS idx_observations_lineage ON incident_observations(center_id, incident_number, name);
CREATE INDEX IF NOT EXISTS idx_observations_ingested_at ON incident_observations(ingested_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var (
	pgCenterUpsert   = db.MustUpsertSQL(centerUpsert, db.Dollar)
	pgIncidentUpsert = db.MustUpsertSQL(incidentUpsert, db.Dollar)
	pgEndpointUpsert = db.MustUpsertSQL(endpointUpsert, db.Dollar)
)

func (s *PostgresStore) UpsertCenters(ctx context.Context, centers []model.DispatchCenter) error {
	if len(centers) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("upsert centers", eris.Wrap(err, "postgres: begin tx"))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, c := range centers {
		if _, err := tx.Exec(ctx, pgCenterUpsert, centerArgs(c)...); err != nil {
			return storeErr("upsert centers", eris.Wrapf(err, "postgres: upsert center %s", c.Code))
		}
	}
	return storeErr("upsert centers", eris.Wrap(tx.Commit(ctx), "postgres: commit"))
}

func (s *PostgresStore) ListCenters(ctx context.Context) ([]model.DispatchCenter, error) {
	rows, err := s.pool.Query(ctx, centerSelect+` ORDER BY code`)
	if err != nil {
		return nil, storeErr("list centers", eris.Wrap(err, "postgres: query centers"))
	}
	defer rows.Close()

	var out []model.DispatchCenter
	for rows.Next() {
		c, err := scanCenter(rows)
		if err != nil {
			return nil, storeErr("list centers", eris.Wrap(err, "postgres: scan center"))
		}
		out = append(out, c)
	}
	return out, storeErr("list centers", rows.Err())
}

// UpsertIncidents upserts each incident and appends the observation rows
// with COPY, all in one transaction.
func (s *PostgresStore) UpsertIncidents(ctx context.Context, incidents []model.Incident) error {
	if len(incidents) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("upsert incidents", eris.Wrap(err, "postgres: begin tx"))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	observations := make([][]any, 0, len(incidents))
	for _, inc := range incidents {
		if _, err := tx.Exec(ctx, pgIncidentUpsert, incidentArgs(inc)...); err != nil {
			return storeErr("upsert incidents", eris.Wrapf(err, "postgres: upsert incident %s", inc.Identity))
		}
		observations = append(observations, observationArgs(model.ObservationOf(inc)))
	}
	if _, err := db.CopyFrom(ctx, tx, "incident_observations", observationColumns, observations); err != nil {
		return storeErr("upsert incidents", err)
	}
	return storeErr("upsert incidents", eris.Wrap(tx.Commit(ctx), "postgres: commit"))
}

func (s *PostgresStore) GetIncident(ctx context.Context, identity string) (*model.Incident, error) {
	inc, err := scanIncident(s.pool.QueryRow(ctx, incidentSelect+` WHERE i.incident_identity = $1`, identity))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get incident", eris.Wrapf(err, "postgres: get incident %s", identity))
	}
	return inc, nil
}

func (s *PostgresStore) IncidentHistory(ctx context.Context, identity string) ([]model.Observation, error) {
	rows, err := s.pool.Query(ctx,
		historySelect+` WHERE i.incident_identity = $1 ORDER BY o.ingested_at DESC, o.id DESC`, identity)
	if err != nil {
		return nil, storeErr("incident history", eris.Wrap(err, "postgres: query history"))
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, storeErr("incident history", eris.Wrap(err, "postgres: scan observation"))
		}
		out = append(out, o)
	}
	return out, storeErr("incident history", rows.Err())
}

func (s *PostgresStore) StateSummary(ctx context.Context) ([]model.StateCount, error) {
	rows, err := s.pool.Query(ctx, stateSummarySQL)
	if err != nil {
		return nil, storeErr("state summary", eris.Wrap(err, "postgres: query state summary"))
	}
	defer rows.Close()

	var out []model.StateCount
	for rows.Next() {
		var sc model.StateCount
		if err := rows.Scan(&sc.State, &sc.Centers); err != nil {
			return nil, storeErr("state summary", eris.Wrap(err, "postgres: scan state count"))
		}
		out = append(out, sc)
	}
	return out, storeErr("state summary", rows.Err())
}

func (s *PostgresStore) CenterIncidentCounts(ctx context.Context) ([]model.CenterCount, error) {
	rows, err := s.pool.Query(ctx, centerCountsSQL)
	if err != nil {
		return nil, storeErr("center counts", eris.Wrap(err, "postgres: query center counts"))
	}
	defer rows.Close()

	var out []model.CenterCount
	for rows.Next() {
		var cc model.CenterCount
		if err := rows.Scan(&cc.Code, &cc.Name, &cc.State, &cc.Incidents); err != nil {
			return nil, storeErr("center counts", eris.Wrap(err, "postgres: scan center count"))
		}
		out = append(out, cc)
	}
	return out, storeErr("center counts", rows.Err())
}

func (s *PostgresStore) GetEndpoint(ctx context.Context, centerCode string) (*model.Endpoint, error) {
	var ep model.Endpoint
	err := s.pool.QueryRow(ctx,
		`SELECT center_code, url, last_success FROM api_endpoints WHERE center_code = $1`, centerCode,
	).Scan(&ep.CenterCode, &ep.URL, &ep.LastSuccess)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get endpoint", eris.Wrapf(err, "postgres: get endpoint %s", centerCode))
	}
	return &ep, nil
}

func (s *PostgresStore) PutEndpoint(ctx context.Context, ep model.Endpoint) error {
	_, err := s.pool.Exec(ctx, pgEndpointUpsert, endpointArgs(ep)...)
	return storeErr("put endpoint", eris.Wrapf(err, "postgres: put endpoint %s", ep.CenterCode))
}
