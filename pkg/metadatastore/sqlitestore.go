package metadatastore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mimir-aip/prognosis-go/pkg/models"
)

// SQLiteStore provides SQLite-based persistence for studies, trials and schedules
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based storage instance
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes; a small pool is enough
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}

	// In-memory databases report "memory" instead of "wal"
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return nil, fmt.Errorf("failed to check journal mode: %w", err)
	}
	if journalMode != "wal" && journalMode != "delete" && journalMode != "memory" {
		return nil, fmt.Errorf("unexpected journal mode: got %s", journalMode)
	}

	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// retryOnBusy retries a database operation if it fails due to SQLITE_BUSY
func (s *SQLiteStore) retryOnBusy(operation func() error, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if strings.Contains(err.Error(), "SQLITE_BUSY") {
			// Exponential backoff: 10ms, 20ms, 40ms, 80ms, 160ms
			backoff := time.Duration(10*(1<<uint(i))) * time.Millisecond
			time.Sleep(backoff)
			continue
		}

		return err
	}
	return fmt.Errorf("operation failed after %d retries: %w", maxRetries, err)
}

// initSchema creates the database schema if it doesn't exist
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS studies (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		status TEXT NOT NULL,
		best_score REAL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trials (
		id TEXT PRIMARY KEY,
		study_id TEXT NOT NULL,
		key TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		predictor TEXT NOT NULL,
		status TEXT NOT NULL,
		score REAL,
		created_at DATETIME NOT NULL,
		data TEXT NOT NULL,
		FOREIGN KEY (study_id) REFERENCES studies(id),
		UNIQUE(study_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_trials_study_id ON trials(study_id);

	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		study_id TEXT NOT NULL,
		name TEXT NOT NULL,
		cron_schedule TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		last_run DATETIME,
		next_run DATETIME,
		data TEXT NOT NULL,
		FOREIGN KEY (study_id) REFERENCES studies(id)
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_study_id ON schedules(study_id);

	CREATE TABLE IF NOT EXISTS study_tasks (
		id TEXT PRIMARY KEY,
		study_id TEXT NOT NULL,
		status TEXT NOT NULL,
		submitted_at DATETIME NOT NULL,
		data TEXT NOT NULL,
		FOREIGN KEY (study_id) REFERENCES studies(id)
	);

	CREATE INDEX IF NOT EXISTS idx_study_tasks_study_id ON study_tasks(study_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveStudy saves a study to the database
func (s *SQLiteStore) SaveStudy(study *models.Study) error {
	data, err := json.Marshal(study)
	if err != nil {
		return fmt.Errorf("failed to marshal study: %w", err)
	}

	query := `
		INSERT INTO studies (id, name, status, best_score, created_at, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			best_score = excluded.best_score,
			updated_at = excluded.updated_at,
			data = excluded.data
	`

	// A name already held by another study is a constraint error
	err = s.retryOnBusy(func() error {
		_, execErr := s.db.Exec(query,
			study.ID,
			study.Name,
			string(study.Status),
			study.BestScore,
			study.CreatedAt,
			study.UpdatedAt,
			string(data),
		)
		return execErr
	}, 5)
	if err != nil {
		return fmt.Errorf("failed to save study: %w", err)
	}

	return nil
}

// GetStudy retrieves a study by ID
func (s *SQLiteStore) GetStudy(id string) (*models.Study, error) {
	return s.getStudy(`SELECT data FROM studies WHERE id = ?`, id)
}

// GetStudyByName retrieves a study by its unique name
func (s *SQLiteStore) GetStudyByName(name string) (*models.Study, error) {
	return s.getStudy(`SELECT data FROM studies WHERE name = ?`, name)
}

func (s *SQLiteStore) getStudy(query, arg string) (*models.Study, error) {
	var data string
	err := s.db.QueryRow(query, arg).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("study %w: %s", ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get study: %w", err)
	}

	var study models.Study
	if err := json.Unmarshal([]byte(data), &study); err != nil {
		return nil, fmt.Errorf("failed to unmarshal study: %w", err)
	}

	return &study, nil
}

// ListStudies lists all studies, newest first
func (s *SQLiteStore) ListStudies() ([]*models.Study, error) {
	rows, err := s.db.Query(`SELECT data FROM studies ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list studies: %w", err)
	}
	defer rows.Close()

	studies := make([]*models.Study, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}

		var study models.Study
		if err := json.Unmarshal([]byte(data), &study); err != nil {
			continue
		}

		studies = append(studies, &study)
	}

	return studies, nil
}

// DeleteStudy deletes a study together with its trials, schedules and tasks
func (s *SQLiteStore) DeleteStudy(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, query := range []string{
		`DELETE FROM trials WHERE study_id = ?`,
		`DELETE FROM schedules WHERE study_id = ?`,
		`DELETE FROM study_tasks WHERE study_id = ?`,
		`DELETE FROM studies WHERE id = ?`,
	} {
		if _, err := tx.Exec(query, id); err != nil {
			return fmt.Errorf("failed to delete study: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit study deletion: %w", err)
	}
	return nil
}

// SaveTrial records a trial; a trial with the same study and key is replaced
func (s *SQLiteStore) SaveTrial(trial *models.Trial) error {
	data, err := json.Marshal(trial)
	if err != nil {
		return fmt.Errorf("failed to marshal trial: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO trials (id, study_id, key, iteration, predictor, status, score, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = s.retryOnBusy(func() error {
		_, execErr := s.db.Exec(query,
			trial.ID,
			trial.StudyID,
			trial.Key,
			trial.Iteration,
			trial.Predictor,
			string(trial.Status),
			trial.Score,
			trial.CreatedAt,
			string(data),
		)
		return execErr
	}, 5)
	if err != nil {
		return fmt.Errorf("failed to save trial: %w", err)
	}

	return nil
}

// GetTrial retrieves the trial a study recorded for a configuration key
func (s *SQLiteStore) GetTrial(studyID, key string) (*models.Trial, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM trials WHERE study_id = ? AND key = ?`, studyID, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trial %w: %s/%s", ErrNotFound, studyID, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trial: %w", err)
	}
	return unmarshalTrial(data)
}

// ListTrials lists the trials of a study in the order they were recorded
func (s *SQLiteStore) ListTrials(studyID string) ([]*models.Trial, error) {
	rows, err := s.db.Query(`SELECT data FROM trials WHERE study_id = ? ORDER BY created_at ASC, rowid ASC`, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trials: %w", err)
	}
	defer rows.Close()

	trials := make([]*models.Trial, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}
		trial, err := unmarshalTrial(data)
		if err != nil {
			continue
		}
		trials = append(trials, trial)
	}

	return trials, nil
}

// BestTrial returns the highest scoring completed trial of a study
func (s *SQLiteStore) BestTrial(studyID string) (*models.Trial, error) {
	query := `
		SELECT data FROM trials
		WHERE study_id = ? AND status = ? AND score IS NOT NULL
		ORDER BY score DESC, created_at ASC
		LIMIT 1
	`
	var data string
	err := s.db.QueryRow(query, studyID, string(models.TrialStatusComplete)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trial %w: no completed trial for study %s", ErrNotFound, studyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get best trial: %w", err)
	}
	return unmarshalTrial(data)
}

func unmarshalTrial(data string) (*models.Trial, error) {
	var trial models.Trial
	if err := json.Unmarshal([]byte(data), &trial); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trial: %w", err)
	}
	return &trial, nil
}

// SaveSchedule saves a schedule to the database
func (s *SQLiteStore) SaveSchedule(schedule *models.Schedule) error {
	data, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}

	enabled := 0
	if schedule.Enabled {
		enabled = 1
	}

	query := `
		INSERT OR REPLACE INTO schedules (id, study_id, name, cron_schedule, enabled, created_at, updated_at, last_run, next_run, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	// Schedule saves race with scheduled executions updating last_run
	err = s.retryOnBusy(func() error {
		_, execErr := s.db.Exec(query,
			schedule.ID,
			schedule.StudyID,
			schedule.Name,
			schedule.CronSchedule,
			enabled,
			schedule.CreatedAt,
			schedule.UpdatedAt,
			schedule.LastRun,
			schedule.NextRun,
			string(data),
		)
		return execErr
	}, 5)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	return nil
}

// GetSchedule retrieves a schedule by ID
func (s *SQLiteStore) GetSchedule(id string) (*models.Schedule, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM schedules WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schedule %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	var schedule models.Schedule
	if err := json.Unmarshal([]byte(data), &schedule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}

	return &schedule, nil
}

// ListSchedules lists all schedules
func (s *SQLiteStore) ListSchedules() ([]*models.Schedule, error) {
	return s.listSchedules(`SELECT data FROM schedules ORDER BY created_at DESC`)
}

// ListSchedulesByStudy lists the schedules of one study
func (s *SQLiteStore) ListSchedulesByStudy(studyID string) ([]*models.Schedule, error) {
	return s.listSchedules(`SELECT data FROM schedules WHERE study_id = ? ORDER BY created_at DESC`, studyID)
}

func (s *SQLiteStore) listSchedules(query string, args ...interface{}) ([]*models.Schedule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	schedules := make([]*models.Schedule, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}

		var schedule models.Schedule
		if err := json.Unmarshal([]byte(data), &schedule); err != nil {
			continue
		}

		schedules = append(schedules, &schedule)
	}

	return schedules, nil
}

// DeleteSchedule deletes a schedule
func (s *SQLiteStore) DeleteSchedule(id string) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

// SaveTask records the state of a study run
func (s *SQLiteStore) SaveTask(task *models.StudyTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO study_tasks (id, study_id, status, submitted_at, data)
		VALUES (?, ?, ?, ?, ?)
	`

	err = s.retryOnBusy(func() error {
		_, execErr := s.db.Exec(query, task.ID, task.StudyID, string(task.Status), task.SubmittedAt, string(data))
		return execErr
	}, 5)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// GetTask retrieves a study run by ID
func (s *SQLiteStore) GetTask(id string) (*models.StudyTask, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM study_tasks WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task models.StudyTask
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// ListTasksByStudy lists the runs of a study, newest first
func (s *SQLiteStore) ListTasksByStudy(studyID string) ([]*models.StudyTask, error) {
	rows, err := s.db.Query(`SELECT data FROM study_tasks WHERE study_id = ? ORDER BY submitted_at DESC`, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*models.StudyTask, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}

		var task models.StudyTask
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			continue
		}
		tasks = append(tasks, &task)
	}
	return tasks, nil
}
