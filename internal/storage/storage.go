// Package storage persists execution records, technique feedback, and
// technique embeddings in a libsql database.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	libsqlvector "github.com/ryanskidmore/libsql-vector-go"
	_ "github.com/tursodatabase/go-libsql"
)

// Store wraps the libsql handle. Safe for concurrent use; database/sql
// pools connections internally.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path, building the schema on first
// use
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initializeSchema() error {
	ctx := context.Background()

	schema := `
	CREATE TABLE IF NOT EXISTS execution_records (
		id TEXT PRIMARY KEY,
		client TEXT NOT NULL,
		surface TEXT NOT NULL,
		mode TEXT NOT NULL,
		pipeline_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT,
		raw_output TEXT NOT NULL,
		processed_output TEXT NOT NULL,
		detected_format TEXT,
		validation_passed INTEGER NOT NULL,
		validation_errors TEXT, -- JSON array
		fidelity REAL,
		confidence REAL NOT NULL,
		tokens_in INTEGER NOT NULL,
		tokens_out INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		rating INTEGER,
		feedback_text TEXT,
		reused INTEGER,
		abandoned INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_client ON execution_records(client);
	CREATE INDEX IF NOT EXISTS idx_records_pipeline ON execution_records(pipeline_id);
	CREATE INDEX IF NOT EXISTS idx_records_created ON execution_records(created_at);

	CREATE TABLE IF NOT EXISTS technique_feedback (
		technique_id TEXT NOT NULL,
		record_id TEXT NOT NULL,
		rating INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (technique_id, record_id)
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_technique ON technique_feedback(technique_id);

	CREATE TABLE IF NOT EXISTS technique_embeddings (
		technique_id TEXT PRIMARY KEY,
		desc_hash TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		embedding TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// ExecutionRecord is one pipeline run's persisted outcome. Append-only
// except for the feedback fields, which a later feedback flow may attach.
type ExecutionRecord struct {
	ID               string    `json:"id"`
	Client           string    `json:"client"`
	Surface          string    `json:"surface"`
	Mode             string    `json:"mode"`
	PipelineID       string    `json:"pipeline_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	RawOutput        string    `json:"raw_output"`
	ProcessedOutput  string    `json:"processed_output"`
	DetectedFormat   string    `json:"detected_format"`
	ValidationPassed bool      `json:"validation_passed"`
	ValidationErrors []string  `json:"validation_errors"`
	Fidelity         float64   `json:"fidelity"`
	Confidence       float64   `json:"confidence"`
	TokensIn         int       `json:"tokens_in"`
	TokensOut        int       `json:"tokens_out"`
	DurationMS       int64     `json:"duration_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// AppendExecution persists a completed run. Called only after a result
// exists; a cancelled run writes nothing.
func (s *Store) AppendExecution(ctx context.Context, rec *ExecutionRecord) error {
	errsJSON, err := json.Marshal(rec.ValidationErrors)
	if err != nil {
		return fmt.Errorf("failed to encode validation errors: %w", err)
	}

	query := `
	INSERT INTO execution_records
	(id, client, surface, mode, pipeline_id, provider, model, raw_output,
	 processed_output, detected_format, validation_passed, validation_errors,
	 fidelity, confidence, tokens_in, tokens_out, duration_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Client, rec.Surface, rec.Mode, rec.PipelineID,
		rec.Provider, rec.Model, rec.RawOutput, rec.ProcessedOutput,
		rec.DetectedFormat, boolInt(rec.ValidationPassed), string(errsJSON),
		rec.Fidelity, rec.Confidence, rec.TokensIn, rec.TokensOut,
		rec.DurationMS, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to store execution record: %w", err)
	}
	return nil
}

// AttachFeedback sets the user feedback fields on an existing record
func (s *Store) AttachFeedback(ctx context.Context, recordID string, rating int, text string, reused, abandoned bool) error {
	query := `
	UPDATE execution_records
	SET rating = ?, feedback_text = ?, reused = ?, abandoned = ?
	WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, rating, text, boolInt(reused), boolInt(abandoned), recordID)
	if err != nil {
		return fmt.Errorf("failed to attach feedback: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("execution record %s not found", recordID)
	}
	return nil
}

// RecordTechniqueFeedback logs one technique's feedback event from a run
func (s *Store) RecordTechniqueFeedback(ctx context.Context, techniqueID, recordID string, rating int, succeeded bool) error {
	query := `
	INSERT OR REPLACE INTO technique_feedback
	(technique_id, record_id, rating, succeeded, created_at)
	VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		techniqueID, recordID, rating, boolInt(succeeded),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record technique feedback: %w", err)
	}
	return nil
}

// GetExecution loads one record by id
func (s *Store) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	query := `
	SELECT id, client, surface, mode, pipeline_id, provider, model,
	       raw_output, processed_output, detected_format, validation_passed,
	       validation_errors, fidelity, confidence, tokens_in, tokens_out,
	       duration_ms, created_at
	FROM execution_records WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)

	var rec ExecutionRecord
	var passed int
	var errsJSON, createdAt string
	var model, detectedFormat sql.NullString
	err := row.Scan(&rec.ID, &rec.Client, &rec.Surface, &rec.Mode,
		&rec.PipelineID, &rec.Provider, &model, &rec.RawOutput,
		&rec.ProcessedOutput, &detectedFormat, &passed, &errsJSON,
		&rec.Fidelity, &rec.Confidence, &rec.TokensIn, &rec.TokensOut,
		&rec.DurationMS, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution record %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution record: %w", err)
	}

	rec.Model = model.String
	rec.DetectedFormat = detectedFormat.String
	rec.ValidationPassed = passed != 0
	if errsJSON != "" {
		if err := json.Unmarshal([]byte(errsJSON), &rec.ValidationErrors); err != nil {
			return nil, fmt.Errorf("failed to decode validation errors: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

// GetEmbedding implements compendium.EmbeddingCache. A stored vector is
// returned only when its description hash still matches.
func (s *Store) GetEmbedding(ctx context.Context, techniqueID, descHash string) ([]float32, bool) {
	query := `SELECT embedding FROM technique_embeddings WHERE technique_id = ? AND desc_hash = ?`
	var embeddingStr string
	if err := s.db.QueryRowContext(ctx, query, techniqueID, descHash).Scan(&embeddingStr); err != nil {
		return nil, false
	}

	var vec libsqlvector.Vector
	if err := vec.Parse(embeddingStr); err != nil {
		return nil, false
	}
	return vec.Slice(), true
}

// PutEmbedding implements compendium.EmbeddingCache
func (s *Store) PutEmbedding(ctx context.Context, techniqueID, descHash string, vec []float32) error {
	query := `
	INSERT OR REPLACE INTO technique_embeddings
	(technique_id, desc_hash, dimensions, embedding, updated_at)
	VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		techniqueID, descHash, len(vec), formatVector(vec),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to store technique embedding: %w", err)
	}
	return nil
}

// formatVector renders a vector in the [1,2,3] text form libsqlvector parses
func formatVector(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", f)
	}
	b.WriteByte(']')
	return b.String()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
