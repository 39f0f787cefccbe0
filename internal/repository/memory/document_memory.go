// Package memory is an in-process repository.DocumentRepository for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"docvault/internal/model"
	"docvault/internal/repository"
)

// DocumentMemory keeps documents in a map guarded by a mutex.
type DocumentMemory struct {
	mu   sync.RWMutex
	docs map[string]model.Document
}

var _ repository.DocumentRepository = (*DocumentMemory)(nil)

func NewDocumentMemory() *DocumentMemory {
	return &DocumentMemory{docs: make(map[string]model.Document)}
}

func (r *DocumentMemory) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := clone(*doc)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	r.docs[doc.ID] = stored
	out := clone(stored)
	return &out, nil
}

func (r *DocumentMemory) FindByID(ctx context.Context, id string) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := clone(d)
	return &out, nil
}

func (r *DocumentMemory) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	matched := make([]model.Document, 0)
	for _, d := range r.docs {
		if d.OwnerID == pq.OwnerID && d.DeletedAt == nil {
			matched = append(matched, clone(d))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := min(max(pq.Offset, 0), total)
	end := total
	if pq.Limit > 0 {
		end = min(start+pq.Limit, total)
	}
	return &repository.PageResult[model.Document]{Items: matched[start:end], Total: total}, nil
}

func (r *DocumentMemory) UpdateStatus(ctx context.Context, id string, from, to model.Status, reason string) error {
	return r.update(ctx, id, func(d *model.Document) error {
		if d.Status != from {
			return repository.ErrStatusConflict
		}
		d.Status = to
		d.FailureReason = reason
		d.UpdatedAt = time.Now()
		return nil
	})
}

func (r *DocumentMemory) MarkAccessed(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, func(d *model.Document) error {
		d.LastAccessedAt = &at
		return nil
	})
}

func (r *DocumentMemory) SoftDelete(ctx context.Context, id string, from model.Status, at time.Time) error {
	return r.update(ctx, id, func(d *model.Document) error {
		if d.Status != from {
			return repository.ErrStatusConflict
		}
		d.Status = model.StatusDeleted
		d.DeletedAt = &at
		d.UpdatedAt = at
		return nil
	})
}

func (r *DocumentMemory) update(ctx context.Context, id string, fn func(*model.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if err := fn(&d); err != nil {
		return err
	}
	r.docs[id] = d
	return nil
}

// clone copies the reference-typed fields so callers cannot mutate stored state.
func clone(d model.Document) model.Document {
	if d.Tags != nil {
		d.Tags = append([]string(nil), d.Tags...)
	}
	if d.Metadata != nil {
		m := make(model.Metadata, len(d.Metadata))
		for k, v := range d.Metadata {
			m[k] = v
		}
		d.Metadata = m
	}
	if d.LastAccessedAt != nil {
		t := *d.LastAccessedAt
		d.LastAccessedAt = &t
	}
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		d.DeletedAt = &t
	}
	return d
}
