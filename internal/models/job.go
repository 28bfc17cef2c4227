package models

import (
	"sync"
	"time"
)

// Stage identifies one step of the ingestion pipeline. Stages only
// advance forward; a later stage never starts before the previous one
// finished for every page.
type Stage int

const (
	StageSplit Stage = iota
	StageRecognize
	StageIndex
	StageIntegrate
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageSplit:
		return "split"
	case StageRecognize:
		return "recognize"
	case StageIndex:
		return "index"
	case StageIntegrate:
		return "integrate"
	case StageDone:
		return "done"
	}
	return "unknown"
}

// JobStatus is the coarse outcome of an ingestion run.
type JobStatus string

const (
	StatusPending        JobStatus = "pending"
	StatusRunning        JobStatus = "running"
	StatusCompleted      JobStatus = "completed"
	StatusPartialFailure JobStatus = "partial_failure"
	StatusFailed         JobStatus = "failed"
	StatusCancelled      JobStatus = "cancelled"
)

// IngestionJob tracks one document's run through the pipeline so
// callers can poll progress. Safe for concurrent reads while the
// pipeline mutates it.
type IngestionJob struct {
	mu sync.Mutex

	ID         string
	DocumentID string
	Filename   string
	StartedAt  time.Time

	stage          Stage
	status         JobStatus
	totalPages     int
	pagesProcessed int
	pagesFailed    int
	err            error
}

func NewIngestionJob(id, filename string) *IngestionJob {
	return &IngestionJob{
		ID:        id,
		Filename:  filename,
		StartedAt: time.Now(),
		stage:     StageSplit,
		status:    StatusPending,
	}
}

// Advance moves the job to a later stage. Earlier or equal stages are
// ignored so the stage counter never moves backwards.
func (j *IngestionJob) Advance(s Stage) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if s > j.stage {
		j.stage = s
	}
	if j.status == StatusPending {
		j.status = StatusRunning
	}
}

func (j *IngestionJob) SetStatus(s JobStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *IngestionJob) SetTotalPages(n int) {
	j.mu.Lock()
	j.totalPages = n
	j.mu.Unlock()
}

// PageDone records the completion of one page recognition call.
func (j *IngestionJob) PageDone(failed bool) {
	j.mu.Lock()
	j.pagesProcessed++
	if failed {
		j.pagesFailed++
	}
	j.mu.Unlock()
}

func (j *IngestionJob) Fail(err error) {
	j.mu.Lock()
	j.status = StatusFailed
	j.err = err
	j.mu.Unlock()
}

func (j *IngestionJob) SetErr(err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
}

// Snapshot returns a consistent copy of the mutable job state.
func (j *IngestionJob) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobSnapshot{
		ID:             j.ID,
		DocumentID:     j.DocumentID,
		Filename:       j.Filename,
		Stage:          j.stage,
		Status:         j.status,
		TotalPages:     j.totalPages,
		PagesProcessed: j.pagesProcessed,
		PagesFailed:    j.pagesFailed,
		Err:            j.err,
	}
}

// JobSnapshot is a point-in-time view of an IngestionJob.
type JobSnapshot struct {
	ID             string
	DocumentID     string
	Filename       string
	Stage          Stage
	Status         JobStatus
	TotalPages     int
	PagesProcessed int
	PagesFailed    int
	Err            error
}
