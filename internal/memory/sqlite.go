package memory

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are stored
// as unix microseconds.
type SQLiteStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewSQLite opens the database at dsn, configures WAL mode and migrates the
// schema. A file that is not a SQLite database yields ErrCorrupt.
func NewSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection: SQLite has a single writer and ":memory:" databases are
	// per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, sqliteErr(err, "exec "+pragma)
		}
	}

	s := &SQLiteStore{db: db, nowFunc: time.Now}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS decisions (
	extracted_key TEXT    NOT NULL,
	roster_key    TEXT    NOT NULL,
	confirmed     INTEGER NOT NULL,
	score         REAL    NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	session_id    TEXT    NOT NULL DEFAULT '',
	statement_id  TEXT    NOT NULL DEFAULT '',
	page_info     TEXT    NOT NULL DEFAULT '',
	destination   TEXT    NOT NULL DEFAULT '',
	UNIQUE (extracted_key, roster_key)
);

CREATE INDEX IF NOT EXISTS idx_decisions_extracted ON decisions(extracted_key);
`

const sqliteColumns = `extracted_key, roster_key, confirmed, score, created_at, updated_at, session_id, statement_id, page_info, destination`

const sqliteMerge = `
INSERT INTO decisions (` + sqliteColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (extracted_key, roster_key) DO UPDATE SET
	confirmed    = excluded.confirmed,
	score        = excluded.score,
	updated_at   = MAX(excluded.updated_at, decisions.updated_at + 1),
	session_id   = COALESCE(NULLIF(excluded.session_id, ''), decisions.session_id),
	statement_id = COALESCE(NULLIF(excluded.statement_id, ''), decisions.statement_id),
	page_info    = COALESCE(NULLIF(excluded.page_info, ''), decisions.page_info),
	destination  = COALESCE(NULLIF(excluded.destination, ''), decisions.destination)`

const sqliteUpsert = sqliteMerge + `
RETURNING ` + sqliteColumns

// Migrate creates the schema if needed.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return sqliteErr(err, "migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Lookup(ctx context.Context, extractedKey, rosterKey string) (*model.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM decisions WHERE extracted_key = ? AND roster_key = ?`,
		extractedKey, rosterKey,
	)
	d, err := scanSQLite(row)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sqliteErr(err, "lookup")
	}
	return d, nil
}

func (s *SQLiteStore) LookupAll(ctx context.Context, extractedKey string) ([]model.Decision, error) {
	return s.query(ctx, "lookup all",
		`SELECT `+sqliteColumns+` FROM decisions WHERE extracted_key = ? ORDER BY roster_key`,
		extractedKey,
	)
}

func (s *SQLiteStore) StoreOrUpdate(ctx context.Context, extractedKey, rosterKey string, confirmed bool, score float64, prov model.Provenance) (*model.Decision, error) {
	if err := checkKeys(extractedKey, rosterKey); err != nil {
		return nil, err
	}
	now := nextStamp(s.nowFunc(), nil).UnixMicro()
	row := s.db.QueryRowContext(ctx, sqliteUpsert,
		extractedKey, rosterKey, boolInt(confirmed), round1(score), now, now,
		prov.SessionID, prov.StatementID, prov.PageInfo, prov.Destination,
	)
	d, err := scanSQLite(row)
	if err != nil {
		return nil, sqliteErr(err, "store or update")
	}
	return d, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, extractedKey string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE extracted_key = ?`, extractedKey)
	if err != nil {
		return 0, sqliteErr(err, "delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, sqliteErr(err, "delete rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) DeletePair(ctx context.Context, extractedKey, rosterKey string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM decisions WHERE extracted_key = ? AND roster_key = ?`,
		extractedKey, rosterKey,
	)
	if err != nil {
		return false, sqliteErr(err, "delete pair")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, sqliteErr(err, "delete pair rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) Export(ctx context.Context) (*Snapshot, error) {
	ds, err := s.query(ctx, "export",
		`SELECT `+sqliteColumns+` FROM decisions ORDER BY extracted_key, roster_key`,
	)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(ds, s.nowFunc()), nil
}

func (s *SQLiteStore) Import(ctx context.Context, snap *Snapshot) (int, error) {
	if err := snap.Validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, sqliteErr(err, "import begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteMerge)
	if err != nil {
		return 0, sqliteErr(err, "import prepare")
	}
	defer stmt.Close()

	for _, d := range snap.Decisions {
		_, err := stmt.ExecContext(ctx,
			d.ExtractedKey, d.RosterKey, boolInt(d.Confirmed), round1(d.Score),
			d.CreatedAt.UnixMicro(), d.UpdatedAt.UnixMicro(),
			d.Provenance.SessionID, d.Provenance.StatementID, d.Provenance.PageInfo, d.Provenance.Destination,
		)
		if err != nil {
			return 0, sqliteErr(err, "import "+d.ExtractedKey)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, sqliteErr(err, "import commit")
	}
	return len(snap.Decisions), nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var confirmed sql.NullInt64
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT extracted_key), COUNT(*), SUM(confirmed), AVG(score) FROM decisions`,
	).Scan(&st.UniqueNames, &st.TotalDecisions, &confirmed, &avg)
	if err != nil {
		return Stats{}, sqliteErr(err, "stats")
	}
	st.ConfirmedCount = int(confirmed.Int64)
	st.RejectedCount = st.TotalDecisions - st.ConfirmedCount
	st.AvgScore = round1(avg.Float64)
	return st, nil
}

func (s *SQLiteStore) query(ctx context.Context, op, query string, args ...any) ([]model.Decision, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sqliteErr(err, op)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		d, err := scanSQLite(rows)
		if err != nil {
			return nil, sqliteErr(err, op)
		}
		out = append(out, *d)
	}
	return out, sqliteErr(rows.Err(), op)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (*model.Decision, error) {
	var d model.Decision
	var confirmed int
	var created, updated int64
	err := row.Scan(
		&d.ExtractedKey, &d.RosterKey, &confirmed, &d.Score, &created, &updated,
		&d.Provenance.SessionID, &d.Provenance.StatementID, &d.Provenance.PageInfo, &d.Provenance.Destination,
	)
	if err != nil {
		return nil, err
	}
	d.Confirmed = confirmed != 0
	d.CreatedAt = time.UnixMicro(created).UTC()
	d.UpdatedAt = time.UnixMicro(updated).UTC()
	if err := validate(d); err != nil {
		return nil, err
	}
	return &d, nil
}

// sqliteErr maps driver errors onto the package sentinels.
func sqliteErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if eris.Is(err, ErrCorrupt) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not a database"), strings.Contains(msg, "malformed"):
		return eris.Wrapf(ErrCorrupt, "sqlite: %s: %v", op, err)
	case resilience.IsTransient(err):
		return eris.Wrapf(ErrWriteConflict, "sqlite: %s: %v", op, err)
	}
	return eris.Wrapf(err, "sqlite: %s", op)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
