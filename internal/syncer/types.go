package syncer

import "github.com/livinlefevreloca/pulse/internal/db"

// Writer persists a single run record
type Writer interface {
	InsertTaskRun(run *db.TaskRun) error
}

// Stats provides current syncer statistics
type Stats struct {
	BufferedRuns int
	DroppedRuns  int64
	WrittenRuns  int64
	FailedWrites int64
}
