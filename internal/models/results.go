package models

import "time"

// BatchProcessingResult is the immutable outcome of one batch run
type BatchProcessingResult struct {
	TotalProcessed  int      `json:"total_processed"`
	Successful      int      `json:"successful"`
	Failed          int      `json:"failed"`
	Errors          []string `json:"errors"`
	DurationSeconds float64  `json:"duration_seconds"`
	BatchID         string   `json:"batch_id"`
}

// BatchProcessingProgress is the live state of an in-flight batch run.
// Only the orchestrating goroutine writes to it.
type BatchProcessingProgress struct {
	BatchID          string    `json:"batch_id"`
	TotalItems       int       `json:"total_items"`
	ProcessedItems   int       `json:"processed_items"`
	CurrentBatch     int       `json:"current_batch"`
	TotalBatches     int       `json:"total_batches"`
	StartTime        time.Time `json:"start_time"`
	CurrentOperation string    `json:"current_operation"`
}

// PercentComplete returns processed/total as a percentage
func (p BatchProcessingProgress) PercentComplete() float64 {
	if p.TotalItems == 0 {
		return 0
	}
	return float64(p.ProcessedItems) / float64(p.TotalItems) * 100
}

// FormatVersion is the export document format written by this build
const FormatVersion = "1.0"

// BackupMetadata is the header of an export document
type BackupMetadata struct {
	BackupID           string   `json:"backup_id"`
	CreatedAt          string   `json:"created_at"`
	SourceEnvironment  string   `json:"source_environment"`
	TotalConversations int      `json:"total_conversations"`
	TotalMessages      int      `json:"total_messages"`
	SessionIDs         []string `json:"session_ids"`
	FormatVersion      string   `json:"format_version"`
}

// VectorUpdateOutcome reports the best-effort vector store step of a
// session migration. It never affects the relational outcome.
type VectorUpdateOutcome struct {
	Attempted     bool   `json:"attempted"`
	PointIDs      int    `json:"point_ids"`
	UpdatedPoints int    `json:"updated_points"`
	Error         string `json:"error,omitempty"`
}

// MigrationResult is the outcome of an export, import or session migration
type MigrationResult struct {
	Success               bool                 `json:"success"`
	Operation             string               `json:"operation"`
	BackupID              string               `json:"backup_id,omitempty"`
	OutputPath            string               `json:"output_path,omitempty"`
	SourceConversations   int                  `json:"source_conversations"`
	SourceMessages        int                  `json:"source_messages"`
	MigratedConversations int                  `json:"migrated_conversations"`
	MigratedMessages      int                  `json:"migrated_messages"`
	SkippedItems          int                  `json:"skipped_items"`
	Errors                []string             `json:"errors"`
	DurationSeconds       float64              `json:"duration_seconds"`
	VectorUpdate          *VectorUpdateOutcome `json:"vector_update,omitempty"`
}
