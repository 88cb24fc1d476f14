package db

import "time"

// TaskRun is one recorded execution attempt of a scheduled task
type TaskRun struct {
	RunID      string
	TaskID     string
	TaskName   string
	DueAt      time.Time // heartbeat tick that found the task due
	StartedAt  time.Time
	DurationMS int64
	Success    bool
	Error      *string
}

// TaskRunSummary aggregates the recorded runs of one task name
type TaskRunSummary struct {
	TaskName  string
	Succeeded int
	Failed    int
}
