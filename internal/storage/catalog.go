package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/marcboeker/go-duckdb"
	"github.com/uploadhub/backend/internal/models"
)

// Catalog persists received-file metadata.
type Catalog interface {
	Put(info *models.FileInfo) error
	Delete(id string) error
	All() ([]*models.FileInfo, error)
	Close() error
}

// DuckCatalog stores file metadata in a DuckDB database file.
type DuckCatalog struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// CatalogOptions tunes the DuckDB connection.
type CatalogOptions struct {
	Threads     int
	MemoryLimit string
}

// OpenDuckCatalog opens (or creates) the catalog at dbPath.
func OpenDuckCatalog(dbPath string, opts CatalogOptions) (*DuckCatalog, error) {
	if opts.Threads <= 0 {
		opts.Threads = 2
	}
	if opts.MemoryLimit == "" {
		opts.MemoryLimit = "256MB"
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit),
			fmt.Sprintf("PRAGMA threads=%d", opts.Threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return fmt.Errorf("%s: %w", pragma, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			id           VARCHAR PRIMARY KEY,
			name         VARCHAR NOT NULL,
			size         BIGINT NOT NULL,
			content_type VARCHAR,
			fields       VARCHAR,
			uploaded_at  TIMESTAMP NOT NULL,
			status       VARCHAR NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &DuckCatalog{db: db, dbPath: dbPath}, nil
}

// Put inserts or replaces the entry for info.ID.
func (c *DuckCatalog) Put(info *models.FileInfo) error {
	var fields sql.NullString
	if len(info.Fields) > 0 {
		data, err := json.Marshal(info.Fields)
		if err != nil {
			return fmt.Errorf("encoding fields: %w", err)
		}
		fields = sql.NullString{String: string(data), Valid: true}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO files (id, name, size, content_type, fields, uploaded_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.Name, info.Size, info.ContentType, fields, info.UploadedAt.UTC(), info.Status,
	)
	if err != nil {
		return fmt.Errorf("writing %s: %w", info.ID, err)
	}
	return nil
}

// Delete removes the entry; unknown ids are ignored.
func (c *DuckCatalog) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.Exec("DELETE FROM files WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	return nil
}

// All returns every entry, newest first.
func (c *DuckCatalog) All() ([]*models.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(`
		SELECT id, name, size, content_type, fields, uploaded_at, status
		FROM files ORDER BY uploaded_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying catalog: %w", err)
	}
	defer rows.Close()

	var out []*models.FileInfo
	for rows.Next() {
		var (
			info        models.FileInfo
			contentType sql.NullString
			fields      sql.NullString
		)
		if err := rows.Scan(&info.ID, &info.Name, &info.Size, &contentType, &fields, &info.UploadedAt, &info.Status); err != nil {
			return nil, fmt.Errorf("scanning catalog row: %w", err)
		}
		info.ContentType = contentType.String
		if fields.Valid && fields.String != "" {
			if err := json.Unmarshal([]byte(fields.String), &info.Fields); err != nil {
				return nil, fmt.Errorf("decoding fields of %s: %w", info.ID, err)
			}
		}
		out = append(out, &info)
	}
	return out, rows.Err()
}

// Close closes the database.
func (c *DuckCatalog) Close() error {
	return c.db.Close()
}
