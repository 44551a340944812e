package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB represents a PostgreSQL jsonb column.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// RunRecord is the persisted row for one analysis run. Stage outputs live in
// jsonb columns, one per stage, so a partially completed run is always
// inspectable.
type RunRecord struct {
	ID           string     `db:"id"`
	CollectionID string     `db:"collection_id"`
	SubjectID    *string    `db:"subject_id"`
	Subtype      string     `db:"subtype"`
	Status       string     `db:"status"`
	CurrentStage string     `db:"current_stage"`
	CreatedAt    time.Time  `db:"created_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	ErrorMessage *string    `db:"error_message"`

	AnalysisOutput  JSONB `db:"analysis_output"`
	StrategyOutput  JSONB `db:"strategy_output"`
	ReviewOutput    JSONB `db:"review_output"`
	ExecutionOutput JSONB `db:"execution_output"`
	SynthesisOutput JSONB `db:"synthesis_output"`
}

// ArtifactRecord is one persisted tool output, addressable by
// (document, artifact type, method).
type ArtifactRecord struct {
	ID           string    `db:"id"`
	DocumentID   string    `db:"document_id"`
	ArtifactType string    `db:"artifact_type"`
	Method       string    `db:"method"`
	RunID        string    `db:"run_id"`
	Data         JSONB     `db:"data"`
	Metadata     JSONB     `db:"metadata"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// DocumentRecord is one member of a document collection.
type DocumentRecord struct {
	ID           string `db:"id"`
	CollectionID string `db:"collection_id"`
	Title        string `db:"title"`
	Text         string `db:"body"`
}
