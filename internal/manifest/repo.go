package manifest

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/mdbook-plantuml/internal/apperr"
)

// Row is one rendered artifact. Path is relative to the output root.
type Row struct {
	Path       string    `json:"path"`
	Hash       string    `json:"hash"`
	Format     string    `json:"format"`
	Chapter    string    `json:"chapter,omitempty"`
	Source     string    `json:"source,omitempty"`
	Size       int64     `json:"size"`
	RenderedAt time.Time `json:"rendered_at"`
}

const rowColumns = `path, hash, format, chapter, source, size, rendered_at`

// UpsertArtifact inserts or replaces an artifact row.
func (db *DB) UpsertArtifact(r Row) error {
	if r.RenderedAt.IsZero() {
		r.RenderedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(`
		INSERT INTO artifacts (`+rowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			hash        = excluded.hash,
			format      = excluded.format,
			chapter     = excluded.chapter,
			source      = excluded.source,
			size        = excluded.size,
			rendered_at = excluded.rendered_at
	`, r.Path, r.Hash, r.Format, r.Chapter, r.Source, r.Size, r.RenderedAt)
	if err != nil {
		return fmt.Errorf("manifest: upsert artifact: %w", err)
	}
	return nil
}

// GetArtifact returns the row for path or apperr.ErrNotFound.
func (db *DB) GetArtifact(path string) (*Row, error) {
	row := db.conn.QueryRow(`SELECT `+rowColumns+` FROM artifacts WHERE path = ?`, path)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("manifest: %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: get artifact: %w", err)
	}
	return &r, nil
}

// DeleteArtifact removes the row for path. Missing rows are not an error.
func (db *DB) DeleteArtifact(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM artifacts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("manifest: delete artifact: %w", err)
	}
	return nil
}

// ListArtifacts returns one page of rows, newest first, plus the total
// number of rows matching format (all formats when empty).
func (db *DB) ListArtifacts(limit, offset int, format string) ([]Row, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := ""
	args := []any{}
	if format != "" {
		where = ` WHERE format = ?`
		args = append(args, format)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM artifacts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("manifest: count artifacts: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+rowColumns+` FROM artifacts`+where+
		` ORDER BY rendered_at DESC, path LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("manifest: list artifacts: %w", err)
	}
	defer rows.Close()

	out, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Search matches query against diagram sources and chapter paths.
func (db *DB) Search(query string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.Query(`SELECT `+rowColumns+` FROM artifacts
		WHERE source LIKE ? OR chapter LIKE ?
		ORDER BY rendered_at DESC
		LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("manifest: search: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// AllPaths returns every recorded artifact path.
func (db *DB) AllPaths() (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT path FROM artifacts`)
	if err != nil {
		return nil, fmt.Errorf("manifest: all paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (Row, error) {
	var r Row
	err := s.Scan(&r.Path, &r.Hash, &r.Format, &r.Chapter, &r.Source, &r.Size, &r.RenderedAt)
	return r, err
}

func collect(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
