// Package session persists parsed annotation layers as annotation sessions
// in SQLite. Saving a layer replaces the rows of each matching active
// session and moves the old rows into the point archive.
package session

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"brainsharer/internal/models"
)

// ErrNotFound is returned when a session or archive does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS annotation_session (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	animal TEXT NOT NULL,
	label TEXT NOT NULL,
	annotator TEXT NOT NULL,
	annotation_type TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created INTEGER NOT NULL,
	updated INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS annotation_session_key
	ON annotation_session(animal, label, annotator, annotation_type, active);

CREATE TABLE IF NOT EXISTS marked_cells (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES annotation_session(id),
	x REAL NOT NULL, y REAL NOT NULL, z REAL NOT NULL,
	source TEXT NOT NULL,
	cell_type TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS structure_com (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES annotation_session(id),
	x REAL NOT NULL, y REAL NOT NULL, z REAL NOT NULL,
	source TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS polygon_sequences (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES annotation_session(id),
	x REAL NOT NULL, y REAL NOT NULL, z REAL NOT NULL,
	point_order INTEGER NOT NULL,
	polygon_index INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS archive_set (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES annotation_session(id),
	active INTEGER NOT NULL DEFAULT 1,
	created INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS annotations_point_archive (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	archive_id INTEGER NOT NULL REFERENCES archive_set(id),
	session_id INTEGER NOT NULL REFERENCES annotation_session(id),
	x REAL NOT NULL, y REAL NOT NULL, z REAL NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	cell_type TEXT NOT NULL DEFAULT '',
	point_order INTEGER NOT NULL DEFAULT 0,
	polygon_index INTEGER NOT NULL DEFAULT 0,
	UNIQUE(session_id, x, y, z)
);
`

// Store is an annotation session database.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// one writer at a time keeps transactions from failing with SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable foreign keys")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create tables")
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// inTx runs fn in a transaction, rolling back if it fails.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// SaveAll writes every batch of one layer in a single transaction. For each
// batch the active session for its key is found or created, the rows it
// holds are archived and deleted, and the batch rows are inserted. Nothing
// is written if any batch fails. The touched sessions are returned in batch
// order.
func (s *Store) SaveAll(ctx context.Context, batches []*Batch) ([]models.Session, error) {
	var sessions []models.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, b := range batches {
			if !b.Key.Type.Valid() {
				return errors.Errorf("batch %s: unknown annotation type", b.Key)
			}
			sess, err := s.getOrCreate(ctx, tx, b.Key)
			if err != nil {
				return errors.Wrapf(err, "batch %s", b.Key)
			}
			if err := s.archive(ctx, tx, sess); err != nil {
				return errors.Wrapf(err, "archive session %d", sess.ID)
			}
			if err := insertRows(ctx, tx, sess.ID, b); err != nil {
				return errors.Wrapf(err, "insert rows of session %d", sess.ID)
			}
			sess.Updated = s.now()
			if _, err := tx.ExecContext(ctx, `UPDATE annotation_session SET updated = ? WHERE id = ?`,
				sess.Updated.UnixMilli(), sess.ID); err != nil {
				return errors.Wrapf(err, "touch session %d", sess.ID)
			}
			sessions = append(sessions, *sess)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) getOrCreate(ctx context.Context, q queryer, key Key) (*models.Session, error) {
	sess, err := activeSession(ctx, q, key)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.createSession(ctx, q, key)
}

func (s *Store) createSession(ctx context.Context, q queryer, key Key) (*models.Session, error) {
	now := s.now()
	res, err := q.ExecContext(ctx, `INSERT INTO annotation_session
		(animal, label, annotator, annotation_type, active, created, updated)
		VALUES (?, ?, ?, ?, 1, ?, ?)`,
		key.Animal, key.Label, key.Annotator, string(key.Type), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	return &models.Session{
		ID:             id,
		Animal:         key.Animal,
		Label:          key.Label,
		Annotator:      key.Annotator,
		AnnotationType: key.Type,
		Active:         true,
		Created:        time.UnixMilli(now.UnixMilli()),
		Updated:        time.UnixMilli(now.UnixMilli()),
	}, nil
}

const sessionColumns = `id, animal, label, annotator, annotation_type, active, created, updated`

func scanSession(row interface{ Scan(...interface{}) error }) (*models.Session, error) {
	var (
		sess             models.Session
		typ              string
		active           int
		created, updated int64
	)
	if err := row.Scan(&sess.ID, &sess.Animal, &sess.Label, &sess.Annotator, &typ, &active, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sess.AnnotationType = models.AnnotationType(typ)
	sess.Active = active != 0
	sess.Created = time.UnixMilli(created)
	sess.Updated = time.UnixMilli(updated)
	return &sess, nil
}

func activeSession(ctx context.Context, q queryer, key Key) (*models.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM annotation_session
		WHERE animal = ? AND label = ? AND annotator = ? AND annotation_type = ? AND active = 1
		ORDER BY updated DESC, id DESC LIMIT 1`,
		key.Animal, key.Label, key.Annotator, string(key.Type))
	return scanSession(row)
}

// ActiveSession returns the active session for key or ErrNotFound.
func (s *Store) ActiveSession(ctx context.Context, key Key) (*models.Session, error) {
	sess, err := activeSession(ctx, s.db, key)
	if err != nil {
		return nil, errors.Wrapf(err, "active session %s", key)
	}
	return sess, nil
}

// Session returns a session by id or ErrNotFound.
func (s *Store) Session(ctx context.Context, id int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM annotation_session WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, errors.Wrapf(err, "session %d", id)
	}
	return sess, nil
}

// Sessions lists the sessions of an animal, newest first.
func (s *Store) Sessions(ctx context.Context, animal string) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM annotation_session
		WHERE animal = ? ORDER BY updated DESC, id DESC`, animal)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer func() { _ = rows.Close() }()
	var out []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		out = append(out, *sess)
	}
	return out, errors.Wrap(rows.Err(), "list sessions")
}
