package session

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"brainsharer/internal/models"
)

// ArchiveSet is a group of archived rows of one session.
type ArchiveSet struct {
	ID        int64
	SessionID int64
	Active    bool
	Created   time.Time
}

// table returns the row table owned by sessions of type t.
func table(t models.AnnotationType) (string, error) {
	switch t {
	case models.MarkedCellType:
		return "marked_cells", nil
	case models.StructureCOM:
		return "structure_com", nil
	case models.PolygonSequence:
		return "polygon_sequences", nil
	}
	return "", errors.Errorf("unknown annotation type %q", t)
}

// archiveColumns lists, per table, the archive columns filled from the row.
var archiveColumns = map[string]string{
	"marked_cells":      "x, y, z, source, cell_type",
	"structure_com":     "x, y, z, source",
	"polygon_sequences": "x, y, z, point_order, polygon_index",
}

// archive copies the rows of sess into its active archive set, skipping
// positions already archived for the session, then deletes them.
func (s *Store) archive(ctx context.Context, q queryer, sess *models.Session) error {
	tbl, err := table(sess.AnnotationType)
	if err != nil {
		return err
	}
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+tbl+` WHERE session_id = ?`, sess.ID).Scan(&n); err != nil {
		return errors.Wrap(err, "count rows")
	}
	if n == 0 {
		return nil
	}
	archiveID, err := s.activeArchive(ctx, q, sess.ID)
	if err != nil {
		return err
	}
	cols := archiveColumns[tbl]
	if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO annotations_point_archive
		(archive_id, session_id, `+cols+`)
		SELECT ?, session_id, `+cols+` FROM `+tbl+` WHERE session_id = ? ORDER BY id`,
		archiveID, sess.ID); err != nil {
		return errors.Wrap(err, "copy rows to archive")
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM `+tbl+` WHERE session_id = ?`, sess.ID); err != nil {
		return errors.Wrap(err, "delete archived rows")
	}
	return nil
}

func (s *Store) activeArchive(ctx context.Context, q queryer, sessionID int64) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM archive_set WHERE session_id = ? AND active = 1
		ORDER BY id DESC LIMIT 1`, sessionID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrap(err, "find archive set")
	}
	res, err := q.ExecContext(ctx, `INSERT INTO archive_set (session_id, active, created) VALUES (?, 1, ?)`,
		sessionID, s.now().UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "create archive set")
	}
	id, err = res.LastInsertId()
	return id, errors.Wrap(err, "create archive set")
}

func insertRows(ctx context.Context, tx *sql.Tx, sessionID int64, b *Batch) error {
	switch b.Key.Type {
	case models.MarkedCellType:
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO marked_cells (session_id, x, y, z, source, cell_type) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range b.Cells {
			if _, err := stmt.ExecContext(ctx, sessionID, c.X, c.Y, c.Z, c.Source, c.CellType); err != nil {
				return err
			}
		}

	case models.StructureCOM:
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO structure_com (session_id, x, y, z, source) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range b.COMs {
			if _, err := stmt.ExecContext(ctx, sessionID, c.X, c.Y, c.Z, c.Source); err != nil {
				return err
			}
		}

	case models.PolygonSequence:
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO polygon_sequences (session_id, x, y, z, point_order, polygon_index) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range b.Polygons {
			if _, err := stmt.ExecContext(ctx, sessionID, p.X, p.Y, p.Z, p.PointOrder, p.PolygonIndex); err != nil {
				return err
			}
		}
	}
	return nil
}

// PolygonPoints returns the vertices of a POLYGON_SEQUENCE session ordered
// by polygon index then point order.
func (s *Store) PolygonPoints(ctx context.Context, sessionID int64) ([]models.PolygonPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT x, y, z, point_order, polygon_index FROM polygon_sequences
		WHERE session_id = ? ORDER BY polygon_index, point_order, id`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "query polygon points")
	}
	defer func() { _ = rows.Close() }()
	var out []models.PolygonPoint
	for rows.Next() {
		var p models.PolygonPoint
		if err := rows.Scan(&p.X, &p.Y, &p.Z, &p.PointOrder, &p.PolygonIndex); err != nil {
			return nil, errors.Wrap(err, "scan polygon point")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "query polygon points")
}

// StructureCOMs returns the rows of a STRUCTURE_COM session.
func (s *Store) StructureCOMs(ctx context.Context, sessionID int64) ([]models.StructureCOMRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT x, y, z, source FROM structure_com WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "query structure coms")
	}
	defer func() { _ = rows.Close() }()
	var out []models.StructureCOMRow
	for rows.Next() {
		var c models.StructureCOMRow
		if err := rows.Scan(&c.X, &c.Y, &c.Z, &c.Source); err != nil {
			return nil, errors.Wrap(err, "scan structure com")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "query structure coms")
}

// MarkedCells returns the rows of a MARKED_CELL session.
func (s *Store) MarkedCells(ctx context.Context, sessionID int64) ([]models.MarkedCell, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT x, y, z, source, cell_type FROM marked_cells WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "query marked cells")
	}
	defer func() { _ = rows.Close() }()
	var out []models.MarkedCell
	for rows.Next() {
		var c models.MarkedCell
		if err := rows.Scan(&c.X, &c.Y, &c.Z, &c.Source, &c.CellType); err != nil {
			return nil, errors.Wrap(err, "scan marked cell")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "query marked cells")
}

// ArchiveSets returns the archive sets of a session, newest first.
func (s *Store) ArchiveSets(ctx context.Context, sessionID int64) ([]ArchiveSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, active, created FROM archive_set
		WHERE session_id = ? ORDER BY id DESC`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "query archive sets")
	}
	defer func() { _ = rows.Close() }()
	var out []ArchiveSet
	for rows.Next() {
		var a ArchiveSet
		var active int
		var created int64
		if err := rows.Scan(&a.ID, &a.SessionID, &active, &created); err != nil {
			return nil, errors.Wrap(err, "scan archive set")
		}
		a.Active = active != 0
		a.Created = time.UnixMilli(created)
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "query archive sets")
}

// ArchiveRows returns the rows of one archive set.
func (s *Store) ArchiveRows(ctx context.Context, archiveID int64) ([]models.ArchiveRow, error) {
	return archiveRows(ctx, s.db, archiveID)
}

func archiveRows(ctx context.Context, q queryer, archiveID int64) ([]models.ArchiveRow, error) {
	rows, err := q.QueryContext(ctx, `SELECT archive_id, session_id, x, y, z, source, cell_type, point_order, polygon_index
		FROM annotations_point_archive WHERE archive_id = ? ORDER BY id`, archiveID)
	if err != nil {
		return nil, errors.Wrap(err, "query archive rows")
	}
	defer func() { _ = rows.Close() }()
	var out []models.ArchiveRow
	for rows.Next() {
		var r models.ArchiveRow
		if err := rows.Scan(&r.ArchiveID, &r.SessionID, &r.X, &r.Y, &r.Z, &r.Source, &r.CellType, &r.PointOrder, &r.PolygonIndex); err != nil {
			return nil, errors.Wrap(err, "scan archive row")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "query archive rows")
}

// RestoreArchive makes an archive set current again: the session it was
// archived from is marked inactive, any other active session for the same
// key is archived and retired, and a new active session is created holding
// the archived rows. The archive set itself is kept and marked inactive.
func (s *Store) RestoreArchive(ctx context.Context, archiveID int64) (*models.Session, error) {
	var restored *models.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var sessionID int64
		err := tx.QueryRowContext(ctx, `SELECT session_id FROM archive_set WHERE id = ?`, archiveID).Scan(&sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Wrapf(ErrNotFound, "archive %d", archiveID)
		}
		if err != nil {
			return errors.Wrapf(err, "archive %d", archiveID)
		}
		old, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM annotation_session WHERE id = ?`, sessionID))
		if err != nil {
			return errors.Wrapf(err, "session %d", sessionID)
		}
		rows, err := archiveRows(ctx, tx, archiveID)
		if err != nil {
			return err
		}

		// closed first so rows retired below go to a fresh archive set
		if _, err := tx.ExecContext(ctx, `UPDATE archive_set SET active = 0 WHERE id = ?`, archiveID); err != nil {
			return errors.Wrap(err, "close archive set")
		}

		key := Key{Animal: old.Animal, Label: old.Label, Annotator: old.Annotator, Type: old.AnnotationType}
		if current, err := activeSession(ctx, tx, key); err == nil {
			if err := s.archive(ctx, tx, current); err != nil {
				return errors.Wrapf(err, "archive session %d", current.ID)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE annotation_session SET active = 0 WHERE id = ?`, current.ID); err != nil {
				return errors.Wrap(err, "retire session")
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE annotation_session SET active = 0 WHERE id = ?`, old.ID); err != nil {
			return errors.Wrap(err, "retire session")
		}

		restored, err = s.createSession(ctx, tx, key)
		if err != nil {
			return err
		}
		b := &Batch{Key: key}
		for _, r := range rows {
			switch key.Type {
			case models.MarkedCellType:
				b.Cells = append(b.Cells, models.MarkedCell{X: r.X, Y: r.Y, Z: r.Z, Source: r.Source, CellType: r.CellType})
			case models.StructureCOM:
				b.COMs = append(b.COMs, models.StructureCOMRow{X: r.X, Y: r.Y, Z: r.Z, Source: r.Source})
			case models.PolygonSequence:
				b.Polygons = append(b.Polygons, models.PolygonPoint{X: r.X, Y: r.Y, Z: r.Z, PointOrder: r.PointOrder, PolygonIndex: r.PolygonIndex})
			}
		}
		return errors.Wrap(insertRows(ctx, tx, restored.ID, b), "insert restored rows")
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}
