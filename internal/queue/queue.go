// Package queue implements the durable work queue (spec §4.E): a FIFO
// with a state machine, conditional-update claiming/leasing, and
// retry/release semantics. It is the one component with a schema
// richer than a flat document (spec §3), so unlike the rest of the
// core it is backed by its own dedicated table rather than the
// generic docstore.Gateway, grounded on the teacher's
// store.ListPendingJobs / UpdateCrawlJobStatus shape generalized into
// a full state machine.
package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ItemType distinguishes JOB from COMPANY queue items (spec §3).
type ItemType string

const (
	TypeJob     ItemType = "JOB"
	TypeCompany ItemType = "COMPANY"
)

// Status is the queue item's lifecycle state (spec §4.E).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusSkipped    Status = "SKIPPED"
	StatusFailed     Status = "FAILED"
)

// IsTerminal reports whether status has no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusSkipped || s == StatusFailed
}

// Source identifies where a candidate URL originated (spec §3).
type Source string

const (
	SourceScraper          Source = "SCRAPER"
	SourceUserSubmission   Source = "USER_SUBMISSION"
	SourceWebhook          Source = "WEBHOOK"
	SourceEmail            Source = "EMAIL"
)

// ErrorKind is the error taxonomy surfaced by the core (spec §7).
type ErrorKind string

const (
	ErrorNetwork              ErrorKind = "NETWORK"
	ErrorScraperFailed        ErrorKind = "SCRAPER_FAILED"
	ErrorParseFailed          ErrorKind = "PARSE_FAILED"
	ErrorBlocked              ErrorKind = "BLOCKED"
	ErrorLLMFailed            ErrorKind = "LLM_FAILED"
	ErrorRateLimited          ErrorKind = "RATE_LIMITED"
	ErrorStorageTransient     ErrorKind = "STORAGE_TRANSIENT"
	ErrorStoragePrecondition  ErrorKind = "STORAGE_PRECONDITION"
	ErrorStopListed           ErrorKind = "STOP_LISTED"
	ErrorDuplicate            ErrorKind = "DUPLICATE"
	ErrorBelowThreshold       ErrorKind = "BELOW_THRESHOLD"
	ErrorConfigUnavailable    ErrorKind = "CONFIG_UNAVAILABLE"
	ErrorInternal             ErrorKind = "INTERNAL"
)

// ErrorDetails captures the most recent failure on an item (spec §3).
type ErrorDetails struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Item is a queue document (spec §3).
type Item struct {
	ID             uuid.UUID      `json:"id"`
	Type           ItemType       `json:"type"`
	Status         Status         `json:"status"`
	URL            string         `json:"url"`
	URLHash        string         `json:"url_hash"`
	CompanyName    string         `json:"company_name"`
	CompanyID      *uuid.UUID     `json:"company_id,omitempty"`
	Source         Source         `json:"source"`
	SubmittedBy    string         `json:"submitted_by,omitempty"`
	ScrapedData    []byte         `json:"scraped_data,omitempty"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	ErrorDetails   *ErrorDetails  `json:"error_details,omitempty"`
	ResultMessage  string         `json:"result_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	LeaseExpiresAt *time.Time     `json:"lease_expires_at,omitempty"`
}

// NewItem is the input to Enqueue.
type NewItem struct {
	Type        ItemType
	URL         string
	URLHash     string
	CompanyName string
	Source      Source
	SubmittedBy string
	ScrapedData []byte
	MaxRetries  int
}

// Stats is the aggregate view returned by Manager.Stats (spec §4.E).
type Stats struct {
	Pending    int64
	Processing int64
	Success    int64
	Failed     int64
	Skipped    int64
}

// ErrDuplicateURL is returned by Enqueue when another non-terminal
// item already holds the same url_hash (spec §4.E enqueue contract).
var ErrDuplicateURL = errors.New("queue: non-terminal item with the same url_hash already exists")

// ErrNotFound is returned by Complete/Release when the item id does
// not exist.
var ErrNotFound = errors.New("queue: item not found")

// Manager is the Queue Manager contract (spec §4.E).
type Manager interface {
	// Enqueue writes a new PENDING item, failing with ErrDuplicateURL
	// if another non-terminal item shares url_hash.
	Enqueue(item NewItem) (Item, error)

	// Claim atomically transitions up to batchSize oldest PENDING
	// items to PROCESSING with the given lease duration. It also
	// recovers PROCESSING items whose lease has expired, returning
	// them to PENDING without incrementing retry_count, before
	// selecting new items to claim.
	Claim(batchSize int, lease time.Duration) ([]Item, error)

	// Complete sets a terminal status on id. No-op if already terminal.
	Complete(id uuid.UUID, status Status, resultMessage string) error

	// Release increments retry_count and returns the item to PENDING,
	// or marks it FAILED once max_retries is reached.
	Release(id uuid.UUID, kind ErrorKind, message string) error

	// Stats returns aggregated per-status counts.
	Stats() (Stats, error)

	// Cleanup removes terminal items older than the retention window.
	Cleanup(olderThan time.Duration) (int64, error)

	// Get fetches a single item by id (used by the Postgres Release
	// path and by tests).
	Get(id uuid.UUID) (Item, error)

	// SetCompanyID records the resolved company for a JOB item (used
	// by the per-item pipeline, §4.J step 1).
	SetCompanyID(id uuid.UUID, companyID uuid.UUID) error

	// SetScrapedData attaches freshly scraped payload to an item
	// (§4.J step 2).
	SetScrapedData(id uuid.UUID, data []byte) error
}
