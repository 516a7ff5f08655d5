package jobs

import (
	"context"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeLedgerExport streams an account's ledger entries to the warehouse.
	JobTypeLedgerExport JobType = "ledger_export"
	// JobTypeStatement renders an account statement and archives it.
	JobTypeStatement JobType = "statement"
)

// ParseJobType validates a job type name.
func ParseJobType(s string) (JobType, error) {
	switch t := JobType(s); t {
	case JobTypeLedgerExport, JobTypeStatement:
		return t, nil
	}
	return "", ErrUnknownJobType
}

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrUnknownJobType = errors.New("unknown job type")
	ErrQueueClosed    = errors.New("queue is closed")
)

// ExportJob asks for one account's ledger to be exported.
type ExportJob struct {
	JobID     string  `json:"job_id"`
	Type      JobType `json:"type"`
	AccountID string  `json:"account_id"`

	// From and To bound the exported entries by creation time. Zero means
	// unbounded.
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Result describes where the output went, e.g. a gs:// URI or a row count.
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Publisher enqueues export jobs.
type Publisher interface {
	PublishExport(ctx context.Context, job *ExportJob) error
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler runs a job and returns a short description of its output.
// A non-nil error makes the job eligible for retry.
type JobHandler func(ctx context.Context, job *ExportJob) (string, error)

// JobStore tracks job state.
type JobStore interface {
	SaveJob(ctx context.Context, job *ExportJob) error
	// GetJob returns ErrJobNotFound for unknown ids.
	GetJob(ctx context.Context, jobID string) (*ExportJob, error)
	// ListJobs returns matching jobs, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ExportJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	AccountID string
	Status    JobStatus
	Limit     int
	Offset    int
}
