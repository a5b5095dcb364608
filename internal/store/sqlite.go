package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/wildfire-cli/internal/db"
	"github.com/sells-group/wildfire-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The pool is limited to one connection so writes serialize and the
// foreign_keys pragma holds for every statement.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS dispatch_centers (
	code         TEXT PRIMARY KEY,
	center_id    TEXT NOT NULL UNIQUE,
	name         TEXT,
	state        TEXT,
	status       TEXT,
	source_url   TEXT,
	last_updated DATETIME NOT NULL
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
	observed_at       DATETIME,
	location          TEXT,
	latitude          REAL,
	longitude         REAL,
	resources         TEXT,
	acres             REAL,
	comments          TEXT,
	raw_payload       TEXT NOT NULL,
	ingested_at       DATETIME NOT NULL,
	fire_number       TEXT,
	source_uuid       TEXT,
	command           TEXT,
	fuels             TEXT,
	fiscal_code       TEXT,
	fiscal_data       TEXT
);

CREATE TABLE IF NOT EXISTS incident_observations (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	occurrence_id     TEXT NOT NULL,
	incident_identity TEXT NOT NULL REFERENCES incidents(incident_identity),
	center_id         TEXT NOT NULL,
	incident_number   TEXT NOT NULL DEFAULT '',
	name              TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	observed_at       DATETIME,
	acres             REAL,
	resources         TEXT,
	comments          TEXT,
	raw_payload       TEXT NOT NULL,
	ingested_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS api_endpoints (
	center_code  TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	last_success DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_incidents_center_id ON incidents(center_id);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
CREATE INDEX IF NOT EXISTS idx_observations_lineage ON incident_observations(center_id, incident_number, name);
CREATE INDEX IF NOT EXISTS idx_observations_ingested_at ON incident_observations(ingested_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	sqliteCenterUpsert   = db.MustUpsertSQL(centerUpsert, db.Question)
	sqliteIncidentUpsert = db.MustUpsertSQL(incidentUpsert, db.Question)
	sqliteEndpointUpsert = db.MustUpsertSQL(endpointUpsert, db.Question)
	sqliteObservationIns = `INSERT INTO incident_observations (` + joinCols(observationColumns) + `) VALUES (` + placeholderList(len(observationColumns), db.Question) + `)`
)

// inTx runs fn in a transaction, rolling back on any error.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, eris.Wrap(rbErr, "sqlite: rollback"))
		}
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) UpsertCenters(ctx context.Context, centers []model.DispatchCenter) error {
	if len(centers) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, sqliteCenterUpsert)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare center upsert")
		}
		defer stmt.Close()
		for _, c := range centers {
			if _, err := stmt.ExecContext(ctx, centerArgs(c)...); err != nil {
				return eris.Wrapf(err, "sqlite: upsert center %s", c.Code)
			}
		}
		return nil
	})
	return storeErr("upsert centers", err)
}

func (s *SQLiteStore) ListCenters(ctx context.Context) ([]model.DispatchCenter, error) {
	rows, err := s.db.QueryContext(ctx, centerSelect+` ORDER BY code`)
	if err != nil {
		return nil, storeErr("list centers", eris.Wrap(err, "sqlite: query centers"))
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DispatchCenter
	for rows.Next() {
		c, err := scanCenter(rows)
		if err != nil {
			return nil, storeErr("list centers", eris.Wrap(err, "sqlite: scan center"))
		}
		out = append(out, c)
	}
	return out, storeErr("list centers", rows.Err())
}

func (s *SQLiteStore) UpsertIncidents(ctx context.Context, incidents []model.Incident) error {
	if len(incidents) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		upsert, err := tx.PrepareContext(ctx, sqliteIncidentUpsert)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare incident upsert")
		}
		defer upsert.Close()
		observe, err := tx.PrepareContext(ctx, sqliteObservationIns)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare observation insert")
		}
		defer observe.Close()

		for _, inc := range incidents {
			if _, err := upsert.ExecContext(ctx, incidentArgs(inc)...); err != nil {
				return eris.Wrapf(err, "sqlite: upsert incident %s", inc.Identity)
			}
			if _, err := observe.ExecContext(ctx, observationArgs(model.ObservationOf(inc))...); err != nil {
				return eris.Wrapf(err, "sqlite: insert observation %s", inc.Identity)
			}
		}
		return nil
	})
	return storeErr("upsert incidents", err)
}

func (s *SQLiteStore) GetIncident(ctx context.Context, identity string) (*model.Incident, error) {
	row := s.db.QueryRowContext(ctx, incidentSelect+` WHERE i.incident_identity = ?`, identity)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get incident", eris.Wrapf(err, "sqlite: get incident %s", identity))
	}
	return inc, nil
}

func (s *SQLiteStore) IncidentHistory(ctx context.Context, identity string) ([]model.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		historySelect+` WHERE i.incident_identity = ? ORDER BY o.ingested_at DESC, o.id DESC`, identity)
	if err != nil {
		return nil, storeErr("incident history", eris.Wrap(err, "sqlite: query history"))
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, storeErr("incident history", eris.Wrap(err, "sqlite: scan observation"))
		}
		out = append(out, o)
	}
	return out, storeErr("incident history", rows.Err())
}

func (s *SQLiteStore) StateSummary(ctx context.Context) ([]model.StateCount, error) {
	rows, err := s.db.QueryContext(ctx, stateSummarySQL)
	if err != nil {
		return nil, storeErr("state summary", eris.Wrap(err, "sqlite: query state summary"))
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StateCount
	for rows.Next() {
		var sc model.StateCount
		if err := rows.Scan(&sc.State, &sc.Centers); err != nil {
			return nil, storeErr("state summary", eris.Wrap(err, "sqlite: scan state count"))
		}
		out = append(out, sc)
	}
	return out, storeErr("state summary", rows.Err())
}

func (s *SQLiteStore) CenterIncidentCounts(ctx context.Context) ([]model.CenterCount, error) {
	rows, err := s.db.QueryContext(ctx, centerCountsSQL)
	if err != nil {
		return nil, storeErr("center counts", eris.Wrap(err, "sqlite: query center counts"))
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CenterCount
	for rows.Next() {
		var cc model.CenterCount
		if err := rows.Scan(&cc.Code, &cc.Name, &cc.State, &cc.Incidents); err != nil {
			return nil, storeErr("center counts", eris.Wrap(err, "sqlite: scan center count"))
		}
		out = append(out, cc)
	}
	return out, storeErr("center counts", rows.Err())
}

func (s *SQLiteStore) GetEndpoint(ctx context.Context, centerCode string) (*model.Endpoint, error) {
	var ep model.Endpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT center_code, url, last_success FROM api_endpoints WHERE center_code = ?`, centerCode,
	).Scan(&ep.CenterCode, &ep.URL, &ep.LastSuccess)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get endpoint", eris.Wrapf(err, "sqlite: get endpoint %s", centerCode))
	}
	return &ep, nil
}

func (s *SQLiteStore) PutEndpoint(ctx context.Context, ep model.Endpoint) error {
	_, err := s.db.ExecContext(ctx, sqliteEndpointUpsert, endpointArgs(ep)...)
	return storeErr("put endpoint", eris.Wrapf(err, "sqlite: put endpoint %s", ep.CenterCode))
}
