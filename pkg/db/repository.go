package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/edgeimage/imagectl/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for provisioning runs
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new run record
func (r *Repository) Create(run *Run) error {
	slog.Info("database_create_run", "image", run.Image, "operation", run.Operation, "status", run.Status)

	query := `
		INSERT INTO runs (image, operation, status, sha256, output_path, bmap_path, compression, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		run.Image, run.Operation, run.Status,
		run.SHA256, run.OutputPath, run.BmapPath, run.Compression, run.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "image", run.Image, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Error("database_last_insert_id_failed", "image", run.Image, "error", err)
		return errors.Wrap(err, "failed to get last insert id")
	}
	run.ID = id

	slog.Info("database_run_created", "image", run.Image, "run_id", run.ID, "status", run.Status)
	return nil
}

const runColumns = `id, image, operation, status, sha256, output_path, bmap_path, compression, error_message, created_at, updated_at`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	var sha256, outputPath, bmapPath, compression, errorMessage sql.NullString

	err := row.Scan(
		&run.ID, &run.Image, &run.Operation, &run.Status,
		&sha256, &outputPath, &bmapPath, &compression, &errorMessage,
		&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	run.SHA256 = sha256.String
	run.OutputPath = outputPath.String
	run.BmapPath = bmapPath.String
	run.Compression = compression.String
	run.ErrorMessage = errorMessage.String
	return &run, nil
}

// GetByID retrieves a run by its id
func (r *Repository) GetByID(id int64) (*Run, error) {
	slog.Info("database_query_run", "run_id", id)

	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`
	run, err := scanRun(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		slog.Info("database_run_not_found", "run_id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "run_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query run")
	}

	slog.Info("database_run_found", "run_id", run.ID, "status", run.Status)
	return run, nil
}

// GetLatestByImage retrieves the most recent run for a source image
func (r *Repository) GetLatestByImage(image string) (*Run, error) {
	slog.Info("database_query_latest_run", "image", image)

	query := `SELECT ` + runColumns + ` FROM runs WHERE image = ? ORDER BY id DESC LIMIT 1`
	run, err := scanRun(r.db.QueryRow(query, image))
	if err == sql.ErrNoRows {
		slog.Info("database_run_not_found", "image", image)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "image", image, "error", err)
		return nil, errors.Wrap(err, "failed to query run")
	}

	slog.Info("database_run_found", "image", image, "run_id", run.ID, "status", run.Status)
	return run, nil
}

// Update updates an existing run record
func (r *Repository) Update(run *Run) error {
	slog.Info("database_update_run", "run_id", run.ID, "status", run.Status)

	query := `
		UPDATE runs
		SET sha256 = ?, status = ?,
		    output_path = ?, bmap_path = ?, compression = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		run.SHA256, run.Status,
		run.OutputPath, run.BmapPath, run.Compression, run.ErrorMessage, run.ID)
	if err != nil {
		slog.Error("database_update_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to update run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		slog.Error("database_rows_affected_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_run_not_found_for_update", "run_id", run.ID)
		return fmt.Errorf("run not found: id=%d", run.ID)
	}

	slog.Info("database_run_updated", "run_id", run.ID, "status", run.Status)
	return nil
}

// UpdateStatus updates only the status field
func (r *Repository) UpdateStatus(id int64, status, errorMessage string) error {
	slog.Info("database_update_status", "run_id", id, "status", status)

	query := `UPDATE runs SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := r.db.Exec(query, status, errorMessage, id)
	if err != nil {
		slog.Error("database_status_update_failed", "run_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}

	slog.Info("database_status_updated", "run_id", id, "status", status)
	return nil
}

// List retrieves all runs, newest first
func (r *Repository) List() ([]*Run, error) {
	slog.Info("database_list_runs")

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY id DESC`
	rows, err := r.db.Query(query)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "run_count", len(runs))
	return runs, nil
}

// Delete deletes a run by ID
func (r *Repository) Delete(id int64) error {
	slog.Info("database_delete_run", "run_id", id)

	query := `DELETE FROM runs WHERE id = ?`
	_, err := r.db.Exec(query, id)
	if err != nil {
		slog.Error("database_delete_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to delete run")
	}

	slog.Info("database_run_deleted", "run_id", id)
	return nil
}
