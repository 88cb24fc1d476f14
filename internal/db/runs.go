package db

import (
	"database/sql"
	"time"
)

const taskRunColumns = `run_id, task_id, task_name, due_at, started_at, duration_ms, success, error`

// InsertTaskRun records one execution attempt
func (db *DB) InsertTaskRun(run *TaskRun) error {
	query := `
		INSERT INTO task_runs (` + taskRunColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		run.RunID,
		run.TaskID,
		run.TaskName,
		run.DueAt.UTC(),
		run.StartedAt.UTC(),
		run.DurationMS,
		run.Success,
		run.Error,
	)
	if IsDuplicate(err) {
		return ErrDuplicate
	}

	return err
}

// GetTaskRun retrieves a run by its run ID
func (db *DB) GetTaskRun(runID string) (*TaskRun, error) {
	query := `SELECT ` + taskRunColumns + ` FROM task_runs WHERE run_id = ?`

	run, err := scanTaskRun(db.QueryRow(query, runID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return run, nil
}

// ListTaskRuns returns the most recent runs of a task, newest first.
// A limit of zero or less returns every run.
func (db *DB) ListTaskRuns(taskID string, limit int) ([]*TaskRun, error) {
	return db.listTaskRuns("task_id", taskID, limit)
}

// ListTaskRunsByName returns the most recent runs recorded under a task name,
// across process restarts, newest first
func (db *DB) ListTaskRunsByName(name string, limit int) ([]*TaskRun, error) {
	return db.listTaskRuns("task_name", name, limit)
}

func (db *DB) listTaskRuns(column, value string, limit int) ([]*TaskRun, error) {
	query := `
		SELECT ` + taskRunColumns + `
		FROM task_runs
		WHERE ` + column + ` = ?
		ORDER BY started_at DESC
	`
	args := []interface{}{value}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*TaskRun
	for rows.Next() {
		run, err := scanTaskRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// CountTaskRuns returns how many runs are recorded for a task, split by outcome
func (db *DB) CountTaskRuns(taskID string) (succeeded, failed int, err error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0)
		FROM task_runs
		WHERE task_id = ?
	`

	err = db.QueryRow(query, taskID).Scan(&succeeded, &failed)
	return succeeded, failed, err
}

// SummarizeTaskRuns returns per task name outcome counts, ordered by name
func (db *DB) SummarizeTaskRuns() ([]TaskRunSummary, error) {
	query := `
		SELECT
			task_name,
			COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0)
		FROM task_runs
		GROUP BY task_name
		ORDER BY task_name
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []TaskRunSummary
	for rows.Next() {
		var s TaskRunSummary
		if err := rows.Scan(&s.TaskName, &s.Succeeded, &s.Failed); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

// PruneTaskRuns deletes runs that started before the cutoff and returns how many were removed
func (db *DB) PruneTaskRuns(before time.Time) (int64, error) {
	result, err := db.Exec(`DELETE FROM task_runs WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTaskRun(row rowScanner) (*TaskRun, error) {
	run := &TaskRun{}
	err := row.Scan(
		&run.RunID,
		&run.TaskID,
		&run.TaskName,
		&run.DueAt,
		&run.StartedAt,
		&run.DurationMS,
		&run.Success,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}

	return run, nil
}
