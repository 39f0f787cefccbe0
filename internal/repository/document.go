package repository

import (
	"context"
	"errors"
	"time"

	"docvault/internal/model"
)

var (
	// ErrNotFound is returned when no document row matches.
	ErrNotFound = errors.New("document not found")
	// ErrStatusConflict is returned when a compare-and-set status update finds a different current status.
	ErrStatusConflict = errors.New("document status changed concurrently")
)

// DocumentRepository defines data access for documents using SQL queries only.
// No business logic here — strictly persistence operations.
type DocumentRepository interface {
	// Create inserts a new document record and returns the stored row.
	Create(ctx context.Context, doc *model.Document) (*model.Document, error)

	// FindByID returns a document by its ID, including soft-deleted ones.
	FindByID(ctx context.Context, id string) (*model.Document, error)

	// List returns a page of the owner's non-deleted documents and the total count.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.Document], error)

	// UpdateStatus moves a document from one status to another.
	// It returns ErrStatusConflict when the row exists but is not in status from.
	UpdateStatus(ctx context.Context, id string, from, to model.Status, reason string) error

	// MarkAccessed records the last successful download time.
	MarkAccessed(ctx context.Context, id string, at time.Time) error

	// SoftDelete moves a document from status from to deleted and stamps deleted_at.
	SoftDelete(ctx context.Context, id string, from model.Status, at time.Time) error
}

// PageQuery holds limit/offset pagination parameters scoped to one owner.
type PageQuery struct {
	OwnerID string
	Limit   int
	Offset  int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
