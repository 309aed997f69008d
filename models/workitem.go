package models

import "time"

// ItemStatus is the lifecycle state of a backlog row.
type ItemStatus string

const (
	StatusPending    ItemStatus = "PENDING"
	StatusInProgress ItemStatus = "IN_PROGRESS"
	StatusCompleted  ItemStatus = "COMPLETED"
	StatusFailed     ItemStatus = "FAILED"
)

// WorkItem is one backlog row: a single creative to inspect.
//
// Lifecycle: created by bulk import as PENDING, claimed by exactly one
// worker (PENDING → IN_PROGRESS), then terminated (COMPLETED/FAILED) or
// returned to PENDING on budget exhaustion or session failure.
type WorkItem struct {
	ID            string `badgerhold:"key"`
	CreativeRef   string
	AdvertiserRef string
	Status        ItemStatus `badgerholdIndex:"Status"`

	// Attempt metadata.
	Attempts  int
	LastError string
	ClaimedBy string
	ClaimedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	// Result is set only for COMPLETED items.
	Result *ExtractionResult
}
