package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docvault/internal/model"
	"docvault/internal/repository"
)

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type DocumentPostgres struct {
	db *sql.DB
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

const documentColumns = `id, owner_id, client_id, filename, storage_path, content_type, size, content_hash,
		category, description, tags, metadata, wrapped_key, algorithm, status, failure_reason,
		created_at, updated_at, last_accessed_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(s rowScanner) (*model.Document, error) {
	var (
		d            model.Document
		clientID     sql.NullString
		category     sql.NullString
		description  sql.NullString
		reason       sql.NullString
		tags, meta   []byte
		lastAccessed sql.NullTime
		deletedAt    sql.NullTime
		status       string
	)
	if err := s.Scan(
		&d.ID,
		&d.OwnerID,
		&clientID,
		&d.Filename,
		&d.StoragePath,
		&d.ContentType,
		&d.Size,
		&d.ContentHash,
		&category,
		&description,
		&tags,
		&meta,
		&d.WrappedKey,
		&d.Algorithm,
		&status,
		&reason,
		&d.CreatedAt,
		&d.UpdatedAt,
		&lastAccessed,
		&deletedAt,
	); err != nil {
		return nil, err
	}

	d.ClientID = clientID.String
	d.Category = category.String
	d.Description = description.String
	d.FailureReason = reason.String
	d.Status = model.Status(status)
	if lastAccessed.Valid {
		t := lastAccessed.Time
		d.LastAccessedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		d.DeletedAt = &t
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &d.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts a new document row and returns the stored record.
func (r *DocumentPostgres) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	tags, err := json.Marshal(doc.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	q := `
		INSERT INTO documents (id, owner_id, client_id, filename, storage_path, content_type, size, content_hash,
			category, description, tags, metadata, wrapped_key, algorithm, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		RETURNING ` + documentColumns
	row := r.db.QueryRowContext(ctx, q,
		doc.ID,
		doc.OwnerID,
		nullString(doc.ClientID),
		doc.Filename,
		doc.StoragePath,
		doc.ContentType,
		doc.Size,
		doc.ContentHash,
		nullString(doc.Category),
		nullString(doc.Description),
		tags,
		meta,
		doc.WrappedKey,
		doc.Algorithm,
		string(doc.Status),
		doc.CreatedAt,
	)
	return scanDocument(row)
}

// FindByID fetches a single document by its ID.
func (r *DocumentPostgres) FindByID(ctx context.Context, id string) (*model.Document, error) {
	q := `SELECT ` + documentColumns + `
		FROM documents
		WHERE id = $1`
	d, err := scanDocument(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return d, err
}

// List returns the owner's documents using LIMIT/OFFSET pagination and a total count.
func (r *DocumentPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	const qCount = `SELECT COUNT(*) FROM documents WHERE owner_id = $1 AND deleted_at IS NULL`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, pq.OwnerID).Scan(&total); err != nil {
		return nil, err
	}

	qList := `SELECT ` + documentColumns + `
		FROM documents
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, qList, pq.OwnerID, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Document]{
		Items: items,
		Total: total,
	}, nil
}

// UpdateStatus performs a compare-and-set on the status column.
func (r *DocumentPostgres) UpdateStatus(ctx context.Context, id string, from, to model.Status, reason string) error {
	const q = `
		UPDATE documents
		SET status = $3, failure_reason = $4, updated_at = now()
		WHERE id = $1 AND status = $2
	`
	res, err := r.db.ExecContext(ctx, q, id, string(from), string(to), nullString(reason))
	if err != nil {
		return err
	}
	return r.checkAffected(ctx, res, id)
}

// MarkAccessed stamps last_accessed_at.
func (r *DocumentPostgres) MarkAccessed(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE documents SET last_accessed_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SoftDelete marks the row deleted. The row and its wrapped key are kept.
func (r *DocumentPostgres) SoftDelete(ctx context.Context, id string, from model.Status, at time.Time) error {
	const q = `
		UPDATE documents
		SET status = $3, deleted_at = $4, updated_at = $4
		WHERE id = $1 AND status = $2
	`
	res, err := r.db.ExecContext(ctx, q, id, string(from), string(model.StatusDeleted), at)
	if err != nil {
		return err
	}
	return r.checkAffected(ctx, res, id)
}

// checkAffected distinguishes a missing row from a lost compare-and-set.
func (r *DocumentPostgres) checkAffected(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrStatusConflict
}
