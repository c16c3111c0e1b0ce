// Package store persists books, annotations, personas, and the engine
// configuration as JSON documents in SQLite. Annotation updates use
// whole-collection replacement per book, matching the copy-on-write update
// discipline of the engine: the store is the single state-owning authority
// that serializes writes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"

	"marginalia/internal/config"
	"marginalia/internal/domain"
	jsonx "marginalia/internal/shared/json"
)

const configKey = "engine"

// SQLiteStore is the on-disk persistence collaborator.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS books (
			id TEXT PRIMARY KEY,
			doc TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS annotations (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			doc TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_annotations_book ON annotations(book_id, position);`,
		`CREATE TABLE IF NOT EXISTS personas (
			id TEXT PRIMARY KEY,
			doc TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			doc TEXT NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveBook inserts or replaces a book document.
func (s *SQLiteStore) SaveBook(ctx context.Context, book domain.Book) error {
	doc, err := jsonx.Marshal(book)
	if err != nil {
		return fmt.Errorf("encode book: %w", err)
	}
	return withWriteRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO books(id, doc) VALUES(?, ?)
			 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`,
			book.ID, string(doc))
		return err
	})
}

// Book loads one book by id.
func (s *SQLiteStore) Book(ctx context.Context, id string) (domain.Book, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM books WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return domain.Book{}, fmt.Errorf("book %s not found", id)
	}
	if err != nil {
		return domain.Book{}, err
	}
	var book domain.Book
	if err := jsonx.Unmarshal([]byte(doc), &book); err != nil {
		return domain.Book{}, fmt.Errorf("decode book: %w", err)
	}
	return book, nil
}

// Books lists all books, newest first.
func (s *SQLiteStore) Books(ctx context.Context) ([]domain.Book, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM books`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var books []domain.Book
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var book domain.Book
		if err := jsonx.Unmarshal([]byte(doc), &book); err != nil {
			return nil, fmt.Errorf("decode book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(books, func(i, j int) bool { return books[i].AddedAt.After(books[j].AddedAt) })
	return books, nil
}

// DeleteBook removes a book and its annotations.
func (s *SQLiteStore) DeleteBook(ctx context.Context, id string) error {
	return withWriteRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE book_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Annotations returns the annotation collection for a book in stored order.
func (s *SQLiteStore) Annotations(ctx context.Context, bookID string) ([]domain.Annotation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM annotations WHERE book_id = ? ORDER BY position`, bookID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var annotations []domain.Annotation
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var ann domain.Annotation
		if err := jsonx.Unmarshal([]byte(doc), &ann); err != nil {
			return nil, fmt.Errorf("decode annotation: %w", err)
		}
		annotations = append(annotations, ann)
	}
	return annotations, rows.Err()
}

// ReplaceAnnotations swaps the whole annotation collection for a book in one
// transaction. Callers never mutate rows in place; they rebuild the slice and
// replace it, which keeps readers free of partial states.
func (s *SQLiteStore) ReplaceAnnotations(ctx context.Context, bookID string, annotations []domain.Annotation) error {
	docs := make([]string, len(annotations))
	for i, ann := range annotations {
		doc, err := jsonx.Marshal(ann)
		if err != nil {
			return fmt.Errorf("encode annotation: %w", err)
		}
		docs[i] = string(doc)
	}

	return withWriteRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE book_id = ?`, bookID); err != nil {
			return err
		}
		for i, ann := range annotations {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO annotations(id, book_id, position, doc) VALUES(?, ?, ?, ?)`,
				ann.ID, bookID, i, docs[i]); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// SavePersona inserts or replaces a persona document.
func (s *SQLiteStore) SavePersona(ctx context.Context, persona domain.Persona) error {
	doc, err := jsonx.Marshal(persona)
	if err != nil {
		return fmt.Errorf("encode persona: %w", err)
	}
	return withWriteRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO personas(id, doc) VALUES(?, ?)
			 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`,
			persona.ID, string(doc))
		return err
	})
}

// Personas lists all personas.
func (s *SQLiteStore) Personas(ctx context.Context) ([]domain.Persona, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM personas`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var personas []domain.Persona
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p domain.Persona
		if err := jsonx.Unmarshal([]byte(doc), &p); err != nil {
			return nil, fmt.Errorf("decode persona: %w", err)
		}
		personas = append(personas, p)
	}
	return personas, rows.Err()
}

// SaveConfig persists the engine configuration.
func (s *SQLiteStore) SaveConfig(ctx context.Context, cfg config.EngineConfig) error {
	doc, err := jsonx.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return withWriteRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO settings(key, doc) VALUES(?, ?)
			 ON CONFLICT(key) DO UPDATE SET doc = excluded.doc`,
			configKey, string(doc))
		return err
	})
}

// LoadConfig returns the persisted engine configuration, or defaults when
// none has been saved yet.
func (s *SQLiteStore) LoadConfig(ctx context.Context) (config.EngineConfig, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM settings WHERE key = ?`, configKey).Scan(&doc)
	if err == sql.ErrNoRows {
		return config.Default(), nil
	}
	if err != nil {
		return config.EngineConfig{}, err
	}
	var cfg config.EngineConfig
	if err := jsonx.Unmarshal([]byte(doc), &cfg); err != nil {
		return config.EngineConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
