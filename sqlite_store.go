package lightning

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements Store using SQLite. Structured fields are stored
// as JSON text; script, markup and styles can be snappy-compressed.
type SQLiteStore struct {
	db     *sql.DB
	config StoreConfig
	mu     sync.RWMutex
	closed bool

	insertStmt *sql.Stmt
	updateStmt *sql.Stmt
	deleteStmt *sql.Stmt
	byIDStmt   *sql.Stmt
	byNameStmt *sql.Stmt
}

const vtColumns = `id, name, enabled, imported, is_module, is_streaming, module_name,
	thumbnail_location, sample_data, sample_options, sample_images, code_examples,
	initial_data_fields, javascript, markup, styles, compressed`

// NewSQLiteStore opens (or creates) the database at config.Path.
func NewSQLiteStore(config StoreConfig) (*SQLiteStore, error) {
	if config.Path == "" {
		config.Path = "lightning.db"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		config.Path, config.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, config: config}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS visualization_types (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			enabled INTEGER NOT NULL DEFAULT 1,
			imported INTEGER NOT NULL DEFAULT 0,
			is_module INTEGER NOT NULL DEFAULT 0,
			is_streaming INTEGER NOT NULL DEFAULT 0,
			module_name TEXT,
			thumbnail_location TEXT,
			sample_data TEXT,         -- JSON
			sample_options TEXT,      -- JSON
			sample_images TEXT,       -- JSON array, NULL when empty
			code_examples TEXT,       -- JSON object
			initial_data_fields TEXT, -- JSON array
			javascript BLOB,
			markup BLOB,
			styles BLOB,
			compressed INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_visualization_types_module ON visualization_types(module_name);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`INSERT INTO visualization_types (` + vtColumns + `, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s.updateStmt, err = s.db.Prepare(`UPDATE visualization_types SET
		name = ?, enabled = ?, imported = ?, is_module = ?, is_streaming = ?, module_name = ?,
		thumbnail_location = ?, sample_data = ?, sample_options = ?, sample_images = ?,
		code_examples = ?, initial_data_fields = ?, javascript = ?, markup = ?, styles = ?,
		compressed = ?, updated_at = ?
		WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare update statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM visualization_types WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.byIDStmt, err = s.db.Prepare(`SELECT ` + vtColumns + ` FROM visualization_types WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare select statement: %w", err)
	}

	s.byNameStmt, err = s.db.Prepare(`SELECT ` + vtColumns + ` FROM visualization_types WHERE name = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare select by name statement: %w", err)
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Create inserts vt, assigning a new ID when it has none.
func (s *SQLiteStore) Create(ctx context.Context, vt *VisualizationType) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	id := vt.ID
	if id == "" {
		id = uuid.NewString()
	}
	row, err := s.encode(vt)
	if err != nil {
		return &PersistenceError{Op: "create", Name: vt.Name, Cause: err}
	}

	now := time.Now().UnixNano()
	args := append([]any{id}, row...)
	args = append(args, now, now)
	if _, err := s.insertStmt.ExecContext(ctx, args...); err != nil {
		if isUniqueNameViolation(err) {
			return &DuplicateNameError{Name: vt.Name}
		}
		return &PersistenceError{Op: "create", Name: vt.Name, Cause: err}
	}
	vt.ID = id
	return nil
}

// Update rewrites every column of an existing record.
func (s *SQLiteStore) Update(ctx context.Context, vt *VisualizationType) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	row, err := s.encode(vt)
	if err != nil {
		return &PersistenceError{Op: "update", Name: vt.Name, Cause: err}
	}
	args := append(row, time.Now().UnixNano(), vt.ID)
	res, err := s.updateStmt.ExecContext(ctx, args...)
	if err != nil {
		if isUniqueNameViolation(err) {
			return &DuplicateNameError{Name: vt.Name}
		}
		return &PersistenceError{Op: "update", Name: vt.Name, Cause: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.deleteStmt.ExecContext(ctx, id)
	if err != nil {
		return &PersistenceError{Op: "delete", Cause: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*VisualizationType, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.decode(s.byIDStmt.QueryRowContext(ctx, id))
}

func (s *SQLiteStore) GetByName(ctx context.Context, name string) (*VisualizationType, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.decode(s.byNameStmt.QueryRowContext(ctx, name))
}

func (s *SQLiteStore) List(ctx context.Context) ([]*VisualizationType, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+vtColumns+` FROM visualization_types ORDER BY name`)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Cause: err}
	}
	defer rows.Close()

	var out []*VisualizationType
	for rows.Next() {
		vt, err := s.decode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, vt)
	}
	return out, rows.Err()
}

// Close releases the prepared statements and the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, stmt := range []*sql.Stmt{s.insertStmt, s.updateStmt, s.deleteStmt, s.byIDStmt, s.byNameStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// encode returns the column values after id, in vtColumns order.
func (s *SQLiteStore) encode(vt *VisualizationType) ([]any, error) {
	sampleData, err := jsonColumn(vt.SampleData, emptyObject)
	if err != nil {
		return nil, fmt.Errorf("sampleData: %w", err)
	}
	sampleOptions, err := jsonColumn(vt.SampleOptions, emptyObject)
	if err != nil {
		return nil, fmt.Errorf("sampleOptions: %w", err)
	}

	var sampleImages any
	if len(vt.SampleImages) > 0 {
		b, err := json.Marshal(vt.SampleImages)
		if err != nil {
			return nil, err
		}
		sampleImages = string(b)
	}

	codeExamples := vt.CodeExamples
	if codeExamples == nil {
		codeExamples = map[string]string{}
	}
	codeJSON, err := json.Marshal(codeExamples)
	if err != nil {
		return nil, err
	}

	fields := vt.InitialDataFields
	if fields == nil {
		fields = []string{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	compressed := s.config.CompressArtifacts
	return []any{
		vt.Name, vt.Enabled, vt.Imported, vt.IsModule, vt.IsStreaming,
		nullString(vt.ModuleName), nullString(vt.ThumbnailLocation),
		sampleData, sampleOptions, sampleImages, string(codeJSON), string(fieldsJSON),
		packText(vt.JavaScript, compressed), packText(vt.Markup, compressed), packText(vt.Styles, compressed),
		compressed,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) decode(row rowScanner) (*VisualizationType, error) {
	var (
		vt                                      VisualizationType
		moduleName, thumbnail, sampleImages     sql.NullString
		sampleData, sampleOptions, code, fields sql.NullString
		javascript, markup, styles              []byte
		compressed                              bool
	)
	err := row.Scan(&vt.ID, &vt.Name, &vt.Enabled, &vt.Imported, &vt.IsModule, &vt.IsStreaming,
		&moduleName, &thumbnail, &sampleData, &sampleOptions, &sampleImages, &code, &fields,
		&javascript, &markup, &styles, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "read", Cause: err}
	}

	vt.ModuleName = moduleName.String
	vt.ThumbnailLocation = thumbnail.String
	vt.SampleData = json.RawMessage(orDefault(sampleData, "{}"))
	vt.SampleOptions = json.RawMessage(orDefault(sampleOptions, "{}"))
	if sampleImages.Valid {
		if err := json.Unmarshal([]byte(sampleImages.String), &vt.SampleImages); err != nil {
			return nil, &PersistenceError{Op: "read", Name: vt.Name, Cause: fmt.Errorf("sampleImages: %w", err)}
		}
	}
	if err := json.Unmarshal([]byte(orDefault(code, "{}")), &vt.CodeExamples); err != nil {
		return nil, &PersistenceError{Op: "read", Name: vt.Name, Cause: fmt.Errorf("codeExamples: %w", err)}
	}
	if err := json.Unmarshal([]byte(orDefault(fields, "[]")), &vt.InitialDataFields); err != nil {
		return nil, &PersistenceError{Op: "read", Name: vt.Name, Cause: fmt.Errorf("initialDataFields: %w", err)}
	}

	for _, f := range []struct {
		dst *string
		src []byte
	}{{&vt.JavaScript, javascript}, {&vt.Markup, markup}, {&vt.Styles, styles}} {
		text, err := unpackText(f.src, compressed)
		if err != nil {
			return nil, &PersistenceError{Op: "read", Name: vt.Name, Cause: err}
		}
		*f.dst = text
	}
	vt.normalize()
	return &vt, nil
}

func jsonColumn(raw json.RawMessage, def json.RawMessage) (string, error) {
	if len(raw) == 0 {
		raw = def
	}
	if !json.Valid(raw) {
		return "", errors.New("not valid JSON")
	}
	return string(raw), nil
}

func packText(text string, compressed bool) []byte {
	if compressed {
		return snappy.Encode(nil, []byte(text))
	}
	return []byte(text)
}

func unpackText(b []byte, compressed bool) (string, error) {
	if !compressed || len(b) == 0 {
		return string(b), nil
	}
	out, err := snappy.Decode(nil, b)
	if err != nil {
		return "", fmt.Errorf("decompress artifact: %w", err)
	}
	return string(out), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func orDefault(s sql.NullString, def string) string {
	if !s.Valid || s.String == "" {
		return def
	}
	return s.String
}

func isUniqueNameViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return strings.Contains(se.Error(), "visualization_types.name")
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: visualization_types.name")
}
