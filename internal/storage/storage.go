package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for jobs and per-image results.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS rectify_results (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_id TEXT,
            source_path TEXT NOT NULL,
            output_path TEXT,
            status TEXT NOT NULL,
            min_x REAL, min_y REAL, max_x REAL, max_y REAL,
            min_elevation REAL,
            iterations INTEGER,
            converged BOOLEAN,
            full_coverage BOOLEAN,
            error_message TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS image_metadata (
            file_path TEXT PRIMARY KEY,
            camera_make TEXT,
            camera_model TEXT,
            focal_length REAL,
            sensor_width REAL,
            sensor_height REAL,
            easting REAL,
            northing REAL,
            altitude REAL,
            omega REAL,
            phi REAL,
            kappa REAL,
            timestamp TEXT,
            width INTEGER,
            height INTEGER
        );`,
		`CREATE INDEX IF NOT EXISTS idx_rectify_results_job_id ON rectify_results(job_id);`,
		`CREATE INDEX IF NOT EXISTS idx_rectify_results_source ON rectify_results(source_path);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string
	JobType     string
	Status      string
	InputPath   string
	OutputPath  string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// RectifyResult captures one source image's outcome within a job,
// including the solved footprint.
type RectifyResult struct {
	JobID        string
	SourcePath   string
	OutputPath   string
	Status       string
	MinX         float64
	MinY         float64
	MaxX         float64
	MaxY         float64
	MinElevation float64
	Iterations   int
	Converged    bool
	FullCoverage bool
	Error        string
}

// ImageMetadata captures camera model and exterior orientation details.
type ImageMetadata struct {
	FilePath     string
	CameraMake   string
	CameraModel  string
	FocalLength  float64
	SensorWidth  float64
	SensorHeight float64
	Easting      float64
	Northing     float64
	Altitude     float64
	Omega        float64
	Phi          float64
	Kappa        float64
	Timestamp    string
	Width        int
	Height       int
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM processing_jobs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created time.Time
		var started, completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordRectifyResult persists one image's rectification outcome.
func (s *Store) RecordRectifyResult(rec RectifyResult) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO rectify_results (job_id, source_path, output_path, status, min_x, min_y, max_x, max_y, min_elevation, iterations, converged, full_coverage, error_message)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.JobID, rec.SourcePath, rec.OutputPath, rec.Status, rec.MinX, rec.MinY, rec.MaxX, rec.MaxY,
		rec.MinElevation, rec.Iterations, rec.Converged, rec.FullCoverage, rec.Error)
	return err
}

// RectifyResults returns the per-image outcomes of a job.
func (s *Store) RectifyResults(jobID string) ([]RectifyResult, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT job_id, source_path, output_path, status, min_x, min_y, max_x, max_y, min_elevation, iterations, converged, full_coverage, error_message FROM rectify_results WHERE job_id=? ORDER BY id;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RectifyResult
	for rows.Next() {
		var rec RectifyResult
		var outputPath, errorMsg sql.NullString
		if err := rows.Scan(&rec.JobID, &rec.SourcePath, &outputPath, &rec.Status, &rec.MinX, &rec.MinY, &rec.MaxX, &rec.MaxY,
			&rec.MinElevation, &rec.Iterations, &rec.Converged, &rec.FullCoverage, &errorMsg); err != nil {
			return nil, err
		}
		rec.OutputPath = outputPath.String
		rec.Error = errorMsg.String
		recs = append(recs, rec)
	}
	return recs, nil
}

// RecordImageMetadata stores camera and pose details if available.
func (s *Store) RecordImageMetadata(meta ImageMetadata) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO image_metadata (file_path, camera_make, camera_model, focal_length, sensor_width, sensor_height, easting, northing, altitude, omega, phi, kappa, timestamp, width, height)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		meta.FilePath, meta.CameraMake, meta.CameraModel, meta.FocalLength, meta.SensorWidth, meta.SensorHeight,
		meta.Easting, meta.Northing, meta.Altitude, meta.Omega, meta.Phi, meta.Kappa, meta.Timestamp, meta.Width, meta.Height)
	return err
}

// ImageMetadataFor fetches stored metadata for a file path.
func (s *Store) ImageMetadataFor(path string) (ImageMetadata, error) {
	var meta ImageMetadata
	if s == nil {
		return meta, errors.New("store not initialized")
	}
	err := s.DB.QueryRow(`SELECT file_path, camera_make, camera_model, focal_length, sensor_width, sensor_height, easting, northing, altitude, omega, phi, kappa, timestamp, width, height FROM image_metadata WHERE file_path=?;`, path).
		Scan(&meta.FilePath, &meta.CameraMake, &meta.CameraModel, &meta.FocalLength, &meta.SensorWidth, &meta.SensorHeight,
			&meta.Easting, &meta.Northing, &meta.Altitude, &meta.Omega, &meta.Phi, &meta.Kappa, &meta.Timestamp, &meta.Width, &meta.Height)
	return meta, err
}
