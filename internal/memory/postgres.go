package memory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dnm-router/internal/db"
	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/resilience"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	nowFunc func() time.Time
}

// NewPostgres connects to Postgres and migrates the schema.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	s := NewPostgresWithPool(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, nowFunc: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS dnm_decisions (
	extracted_key TEXT        NOT NULL,
	roster_key    TEXT        NOT NULL,
	confirmed     BOOLEAN     NOT NULL,
	score         DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	session_id    TEXT        NOT NULL DEFAULT '',
	statement_id  TEXT        NOT NULL DEFAULT '',
	page_info     TEXT        NOT NULL DEFAULT '',
	destination   TEXT        NOT NULL DEFAULT '',
	PRIMARY KEY (extracted_key, roster_key)
);
`

const pgColumns = `extracted_key, roster_key, confirmed, score, created_at, updated_at, session_id, statement_id, page_info, destination`

var pgColumnList = []string{
	"extracted_key", "roster_key", "confirmed", "score", "created_at", "updated_at",
	"session_id", "statement_id", "page_info", "destination",
}

const pgUpsert = `
INSERT INTO dnm_decisions AS t (` + pgColumns + `)
VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8, $9)
ON CONFLICT (extracted_key, roster_key) DO UPDATE SET
	confirmed    = EXCLUDED.confirmed,
	score        = EXCLUDED.score,
	updated_at   = GREATEST(EXCLUDED.updated_at, t.updated_at + interval '1 microsecond'),
	session_id   = COALESCE(NULLIF(EXCLUDED.session_id, ''), t.session_id),
	statement_id = COALESCE(NULLIF(EXCLUDED.statement_id, ''), t.statement_id),
	page_info    = COALESCE(NULLIF(EXCLUDED.page_info, ''), t.page_info),
	destination  = COALESCE(NULLIF(EXCLUDED.destination, ''), t.destination)
RETURNING ` + pgColumns

// Migrate creates the schema if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return pgErr(err, "migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, extractedKey, rosterKey string) (*model.Decision, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgColumns+` FROM dnm_decisions WHERE extracted_key = $1 AND roster_key = $2`,
		extractedKey, rosterKey,
	)
	d, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pgErr(err, "lookup")
	}
	return d, nil
}

func (s *PostgresStore) LookupAll(ctx context.Context, extractedKey string) ([]model.Decision, error) {
	return s.query(ctx, "lookup all",
		`SELECT `+pgColumns+` FROM dnm_decisions WHERE extracted_key = $1 ORDER BY roster_key`,
		extractedKey,
	)
}

func (s *PostgresStore) StoreOrUpdate(ctx context.Context, extractedKey, rosterKey string, confirmed bool, score float64, prov model.Provenance) (*model.Decision, error) {
	if err := checkKeys(extractedKey, rosterKey); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, pgUpsert,
		extractedKey, rosterKey, confirmed, round1(score), nextStamp(s.nowFunc(), nil),
		prov.SessionID, prov.StatementID, prov.PageInfo, prov.Destination,
	)
	d, err := scanPostgres(row)
	if err != nil {
		return nil, pgErr(err, "store or update")
	}
	return d, nil
}

func (s *PostgresStore) Delete(ctx context.Context, extractedKey string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dnm_decisions WHERE extracted_key = $1`, extractedKey)
	if err != nil {
		return 0, pgErr(err, "delete")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeletePair(ctx context.Context, extractedKey, rosterKey string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM dnm_decisions WHERE extracted_key = $1 AND roster_key = $2`,
		extractedKey, rosterKey,
	)
	if err != nil {
		return false, pgErr(err, "delete pair")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Export(ctx context.Context) (*Snapshot, error) {
	ds, err := s.query(ctx, "export",
		`SELECT `+pgColumns+` FROM dnm_decisions ORDER BY extracted_key, roster_key`,
	)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(ds, s.nowFunc()), nil
}

var pgImportUpdateCols = []string{
	"confirmed", "score", "updated_at", "session_id", "statement_id", "page_info", "destination",
}

// pgImportSet applies the StoreOrUpdate rule to staged rows; created_at is
// left out of the update so stored rows keep it.
var pgImportSet = map[string]string{
	"updated_at":   "GREATEST(EXCLUDED.updated_at, t.updated_at + interval '1 microsecond')",
	"session_id":   "COALESCE(NULLIF(EXCLUDED.session_id, ''), t.session_id)",
	"statement_id": "COALESCE(NULLIF(EXCLUDED.statement_id, ''), t.statement_id)",
	"page_info":    "COALESCE(NULLIF(EXCLUDED.page_info, ''), t.page_info)",
	"destination":  "COALESCE(NULLIF(EXCLUDED.destination, ''), t.destination)",
}

// Import bulk merges the snapshot through a COPY staged upsert.
func (s *PostgresStore) Import(ctx context.Context, snap *Snapshot) (int, error) {
	if err := snap.Validate(); err != nil {
		return 0, err
	}
	rows := make([][]any, len(snap.Decisions))
	for i, d := range snap.Decisions {
		rows[i] = []any{
			d.ExtractedKey, d.RosterKey, d.Confirmed, round1(d.Score),
			d.CreatedAt.UTC().Truncate(time.Microsecond), d.UpdatedAt.UTC().Truncate(time.Microsecond),
			d.Provenance.SessionID, d.Provenance.StatementID, d.Provenance.PageInfo, d.Provenance.Destination,
		}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "dnm_decisions",
		Columns:      pgColumnList,
		ConflictKeys: []string{"extracted_key", "roster_key"},
		UpdateCols:   pgImportUpdateCols,
		SetExprs:     pgImportSet,
	}, rows)
	if err != nil {
		return 0, pgErr(err, "import")
	}
	return len(rows), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var confirmed int64
	var avg float64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT extracted_key), COUNT(*), COUNT(*) FILTER (WHERE confirmed), COALESCE(AVG(score), 0) FROM dnm_decisions`,
	).Scan(&st.UniqueNames, &st.TotalDecisions, &confirmed, &avg)
	if err != nil {
		return Stats{}, pgErr(err, "stats")
	}
	st.ConfirmedCount = int(confirmed)
	st.RejectedCount = st.TotalDecisions - st.ConfirmedCount
	st.AvgScore = round1(avg)
	return st, nil
}

func (s *PostgresStore) query(ctx context.Context, op, query string, args ...any) ([]model.Decision, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgErr(err, op)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		d, err := scanPostgres(rows)
		if err != nil {
			return nil, pgErr(err, op)
		}
		out = append(out, *d)
	}
	return out, pgErr(rows.Err(), op)
}

func scanPostgres(row pgx.Row) (*model.Decision, error) {
	var d model.Decision
	err := row.Scan(
		&d.ExtractedKey, &d.RosterKey, &d.Confirmed, &d.Score, &d.CreatedAt, &d.UpdatedAt,
		&d.Provenance.SessionID, &d.Provenance.StatementID, &d.Provenance.PageInfo, &d.Provenance.Destination,
	)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	if err := validate(d); err != nil {
		return nil, err
	}
	return &d, nil
}

// pgErr maps pgx errors onto the package sentinels.
func pgErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCorrupt) {
		return err
	}
	var pge *pgconn.PgError
	if errors.As(err, &pge) && (pge.Code == "40001" || pge.Code == "40P01" || pge.Code == "55P03") {
		return eris.Wrapf(ErrWriteConflict, "postgres: %s: %v", op, err)
	}
	if resilience.IsTransient(err) {
		return eris.Wrapf(ErrUnavailable, "postgres: %s: %v", op, err)
	}
	return eris.Wrapf(err, "postgres: %s", op)
}

var _ Store = (*PostgresStore)(nil)
