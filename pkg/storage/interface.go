package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/poet-crawler/pkg/models"
)

// RequestStore handles request lineage state, keyed by request fingerprint
type RequestStore interface {
	// MarkRequestSeen records a lineage as pending if it is not stored yet
	// Returns true if the fingerprint was newly added, false if it already existed
	MarkRequestSeen(fingerprint string, entry *models.RequestDBEntry) (bool, error)

	// CheckRequestStatus retrieves the status and details of a lineage
	// Returns status (RequestStatusNotFound when absent, RequestStatusDBError on failure),
	// the RequestDBEntry if found and parsed, and any error
	CheckRequestStatus(fingerprint string) (status models.RequestStatus, entry *models.RequestDBEntry, err error)

	// UpdateRequestStatus stores the status and details of a lineage
	UpdateRequestStatus(fingerprint string, entry *models.RequestDBEntry) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// GetVisitedCount returns the number of stored lineages
	GetVisitedCount() (int, error)

	// RequeueIncomplete sends every non-terminal lineage back as a request
	// Should be called only during resume
	RequeueIncomplete(ctx context.Context, out chan<- *models.Request) (requeuedCount int, scanErrors int, err error)

	// WriteVisitedLog writes one "<status> <method> <url>" line per lineage
	WriteVisitedLog(filePath string) error

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// VisitedStore combines all store interfaces for components that need full access
type VisitedStore interface {
	RequestStore
	StoreAdmin
}
