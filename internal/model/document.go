package model

import "time"

// Document represents a stored, encrypted file in the vault.
// This is a pure domain model with no database-specific dependencies or tags.
// WrappedKey is excluded from JSON output; it never leaves the service layer.
type Document struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	ClientID       string     `json:"client_id,omitempty"`
	Filename       string     `json:"filename"`
	StoragePath    string     `json:"storage_path"`
	ContentType    string     `json:"content_type"`
	Size           int64      `json:"size"`
	ContentHash    string     `json:"content_hash"`
	Category       string     `json:"category,omitempty"`
	Description    string     `json:"description,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Metadata       Metadata   `json:"metadata,omitempty"`
	WrappedKey     string     `json:"-"`
	Algorithm      string     `json:"algorithm"`
	Status         Status     `json:"status"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	DeletedAt      *time.Time `json:"-"`
}

// IsDeleted reports whether the document has been soft-deleted.
func (d *Document) IsDeleted() bool {
	return d.Status == StatusDeleted || d.DeletedAt != nil
}
