package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"docvault/internal/encryption"
	"docvault/internal/metrics"
	"docvault/internal/model"
	"docvault/internal/repository"
	"docvault/internal/storage"
	"docvault/internal/token"
	"docvault/internal/worker"
)

const (
	DefaultMaxSizeBytes  = 50 << 20
	DefaultUploadTimeout = 60 * time.Second
	defaultPageLimit     = 10
	maxPageLimit         = 100
	defaultPresignTTL    = 15 * time.Minute
)

// Cipher is the encryption surface the pipeline needs; *encryption.Engine implements it.
type Cipher interface {
	Algorithm() string
	GenerateKey() (string, error)
	Encrypt(plaintext []byte, key string) (string, error)
	Decrypt(blob string, key string) ([]byte, error)
	WrapKey(key string) (string, error)
	UnwrapKey(wrapped string) (string, error)
}

var _ Cipher = (*encryption.Engine)(nil)

// TokenBroker issues and redeems download tokens; *token.Broker implements it.
type TokenBroker interface {
	Issue(ctx context.Context, documentID, ownerID string) (token.Token, error)
	Validate(ctx context.Context, documentID, value string) (token.Grant, error)
}

var _ TokenBroker = (*token.Broker)(nil)

// UploadInput is one file handed to the pipeline by the transport layer.
// Size is the declared length, or -1 when unknown.
type UploadInput struct {
	OwnerID     string
	ClientID    string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
	Category    string
	Description string
	Tags        []string
	Metadata    model.Metadata
}

// UploadResult is the {id, status, createdAt} envelope returned to uploaders.
type UploadResult struct {
	ID        string       `json:"id"`
	Status    model.Status `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
}

// DocumentListResult is the service-level DTO for paginated documents.
type DocumentListResult struct {
	Items []model.Document `json:"data"`
	Total int              `json:"total"`
}

// DownloadTicket is handed to the owner after a successful RequestDownload.
type DownloadTicket struct {
	DocumentID  string    `json:"document_id"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
}

// Download is a decrypted document ready to stream. Callers must close Body.
type Download struct {
	Body        io.ReadCloser
	Filename    string
	ContentType string
	Size        int64
}

// StorageInfo describes the stored ciphertext object of a document.
type StorageInfo struct {
	DocumentID   string    `json:"document_id"`
	Key          string    `json:"key"`
	Exists       bool      `json:"exists"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
	PresignedURL string    `json:"presigned_url,omitempty"`
	URLExpiresAt time.Time `json:"url_expires_at,omitempty"`
}

// DocumentService defines the use cases for handling documents.
type DocumentService interface {
	// Upload validates, encrypts and stores a file, records it and runs post-processing.
	Upload(ctx context.Context, in UploadInput) (*UploadResult, error)

	// List returns the owner's documents using limit/offset and a total count.
	List(ctx context.Context, ownerID string, limit, offset int) (*DocumentListResult, error)

	// Get returns a single document owned by ownerID.
	Get(ctx context.Context, id, ownerID string) (*model.Document, error)

	// Delete soft-deletes a document and best-effort removes its blob.
	Delete(ctx context.Context, id, ownerID string) error

	// RequestDownload mints a single-use download token for a ready document.
	RequestDownload(ctx context.Context, id, ownerID string) (*DownloadTicket, error)

	// Fetch redeems a token and returns the decrypted document.
	Fetch(ctx context.Context, id, tokenValue string) (*Download, error)

	// StorageInfo reports the stored object behind a document.
	StorageInfo(ctx context.Context, id, ownerID string) (*StorageInfo, error)
}

// Options tunes the pipeline. Zero values select defaults.
type Options struct {
	MaxSizeBytes    int64
	UploadTimeout   time.Duration
	AsyncProcessing bool
	PresignTTL      time.Duration
	// Processors run after the blob is stored; nil means a single IntegrityVerifier.
	Processors []Processor
	Pool       *worker.Pool
	Metrics    *metrics.Pipeline
	Logger     logrus.FieldLogger
	Clock      func() time.Time
}

// documentService is a concrete implementation of DocumentService.
type documentService struct {
	store      storage.Storage
	repo       repository.DocumentRepository
	cipher     Cipher
	broker     TokenBroker
	processors []Processor
	pool       *worker.Pool
	metrics    *metrics.Pipeline
	log        logrus.FieldLogger
	tracer     trace.Tracer
	now        func() time.Time

	maxSize    int64
	timeout    time.Duration
	async      bool
	presignTTL time.Duration
}

// NewDocumentService constructs a new DocumentService.
func NewDocumentService(store storage.Storage, repo repository.DocumentRepository, cipher Cipher, broker TokenBroker, opts Options) DocumentService {
	s := &documentService{
		store:      store,
		repo:       repo,
		cipher:     cipher,
		broker:     broker,
		processors: opts.Processors,
		pool:       opts.Pool,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		tracer:     otel.Tracer("docvault/internal/service"),
		now:        opts.Clock,
		maxSize:    opts.MaxSizeBytes,
		timeout:    opts.UploadTimeout,
		async:      opts.AsyncProcessing,
		presignTTL: opts.PresignTTL,
	}
	if s.maxSize <= 0 {
		s.maxSize = DefaultMaxSizeBytes
	}
	if s.timeout <= 0 {
		s.timeout = DefaultUploadTimeout
	}
	if s.presignTTL <= 0 {
		s.presignTTL = defaultPresignTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	if s.pool == nil {
		s.pool = worker.NewPool(4, s.log)
	}
	if s.processors == nil {
		s.processors = []Processor{NewIntegrityVerifier(store, cipher)}
	}
	return s
}

// sealed is the output of the read/encrypt/store stage.
type sealed struct {
	path        string
	hash        string
	size        int64
	wrappedKey  string
	contentType string
}

func (s *documentService) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	ctx, span := s.tracer.Start(ctx, "DocumentService.Upload")
	defer span.End()

	ext, contentType, err := s.validateUpload(in)
	if err != nil {
		s.metrics.Upload(metrics.UploadRejected)
		s.log.WithFields(logrus.Fields{"owner_id": in.OwnerID, "filename": in.Filename}).WithError(err).Info("upload rejected")
		return nil, fail(span, err)
	}

	id := uuid.NewString()
	createdAt := s.now().UTC()
	span.SetAttributes(attribute.String("document.id", id))
	log := s.log.WithFields(logrus.Fields{"document_id": id, "owner_id": in.OwnerID})

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.sealAndStore(sctx, in, id, ext, contentType, createdAt)
	if err != nil {
		s.metrics.Upload(uploadOutcome(err))
		log.WithField("code", storage.CodeOf(err)).WithError(err).Error("upload failed")
		return nil, fail(span, err)
	}

	doc := &model.Document{
		ID:          id,
		OwnerID:     in.OwnerID,
		ClientID:    in.ClientID,
		Filename:    in.Filename,
		StoragePath: out.path,
		ContentType: out.contentType,
		Size:        out.size,
		ContentHash: out.hash,
		Category:    in.Category,
		Description: in.Description,
		Tags:        in.Tags,
		Metadata:    in.Metadata,
		WrappedKey:  out.wrappedKey,
		Algorithm:   s.cipher.Algorithm(),
		Status:      model.StatusProcessing,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	stored, err := s.repo.Create(ctx, doc)
	if err != nil {
		// The blob is unreachable without its record.
		s.deleteBlob(ctx, log, out.path)
		s.metrics.Upload(metrics.UploadError)
		return nil, fail(span, fmt.Errorf("save document: %w", err))
	}
	log.WithField("storage_path", stored.StoragePath).Info("document stored")

	status := model.StatusProcessing
	if s.async {
		job := func(jctx context.Context) error {
			s.process(jctx, stored)
			return nil
		}
		if err := s.pool.Go(context.WithoutCancel(ctx), "process:"+id, job); err != nil {
			log.WithError(err).Error("processing not scheduled")
			status = s.markUnprocessed(ctx, stored, err)
		}
	} else {
		err := s.pool.Do(ctx, func(jctx context.Context) error {
			status = s.process(jctx, stored)
			return nil
		})
		if err != nil {
			log.WithError(err).Error("processing not started")
			status = s.markUnprocessed(ctx, stored, err)
		}
	}

	return &UploadResult{ID: stored.ID, Status: status, CreatedAt: stored.CreatedAt}, nil
}

// sealAndStore reads, hashes, encrypts and stores the body within ctx's deadline.
// If the deadline fires first any blob that still lands is removed again.
func (s *documentService) sealAndStore(ctx context.Context, in UploadInput, id, ext, contentType string, at time.Time) (*sealed, error) {
	type result struct {
		out *sealed
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := s.seal(ctx, in, id, ext, contentType, at)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, r.err)
		}
		return r.out, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				s.deleteBlob(context.WithoutCancel(ctx), s.log.WithField("document_id", id), r.out.path)
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: upload exceeded %s", ErrTimeout, s.timeout)
		}
		return nil, ctx.Err()
	}
}

func (s *documentService) seal(ctx context.Context, in UploadInput, id, ext, contentType string, at time.Time) (*sealed, error) {
	data, err := io.ReadAll(io.LimitReader(in.Body, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, invalid("file", "file exceeds %d bytes", s.maxSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := encryption.Hash(data)
	key, err := s.cipher.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
	}
	blob, err := s.cipher.Encrypt(data, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
	}
	wrapped, err := s.cipher.WrapKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap key: %w", ErrEncryption, err)
	}

	path := storagePath(in.OwnerID, id, ext, at)
	_, err = s.store.Put(ctx, path, bytes.NewReader([]byte(blob)), storage.PutObjectOptions{
		Size:        int64(len(blob)),
		ContentType: "application/octet-stream",
		Metadata: map[string]string{
			"document-id": id,
			"algorithm":   s.cipher.Algorithm(),
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return &sealed{
		path:        path,
		hash:        hash,
		size:        int64(len(data)),
		wrappedKey:  wrapped,
		contentType: contentType,
	}, nil
}

func (s *documentService) validateUpload(in UploadInput) (ext, contentType string, err error) {
	if _, err := uuid.Parse(in.OwnerID); err != nil {
		return "", "", invalid("owner_id", "must be a UUID")
	}
	if in.Body == nil {
		return "", "", invalid("file", "is required")
	}
	if in.Filename == "" {
		return "", "", invalid("file", "filename is required")
	}
	if in.Size > s.maxSize {
		return "", "", invalid("file", "file exceeds %d bytes", s.maxSize)
	}
	return resolveType(in.Filename, in.ContentType)
}

// markUnprocessed records a processing job that never ran.
func (s *documentService) markUnprocessed(ctx context.Context, doc *model.Document, cause error) model.Status {
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.repo.UpdateStatus(uctx, doc.ID, model.StatusProcessing, model.StatusFailed, "processing not started: "+cause.Error()); err != nil {
		s.log.WithField("document_id", doc.ID).WithError(err).Error("failed to record processing outcome")
		return model.StatusProcessing
	}
	s.metrics.Upload(metrics.UploadFailed)
	return model.StatusFailed
}

func (s *documentService) deleteBlob(ctx context.Context, log logrus.FieldLogger, path string) {
	if err := s.store.Delete(ctx, path); err != nil {
		log.WithFields(logrus.Fields{
			"storage_path": path,
			"code":         storage.CodeOf(err),
			"kind":         storage.KindOf(err).String(),
		}).WithError(err).Warn("blob delete failed")
	}
}

// List returns the owner's documents without exposing repository types.
func (s *documentService) List(ctx context.Context, ownerID string, limit, offset int) (*DocumentListResult, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.List(ctx, repository.PageQuery{OwnerID: ownerID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &DocumentListResult{Items: res.Items, Total: res.Total}, nil
}

// Get returns a document by ID if ownerID owns it and it is not deleted.
func (s *documentService) Get(ctx context.Context, id, ownerID string) (*model.Document, error) {
	return s.owned(ctx, id, ownerID)
}

// Delete soft-deletes the record. Blob removal is best effort and never blocks the delete.
func (s *documentService) Delete(ctx context.Context, id, ownerID string) error {
	ctx, span := s.tracer.Start(ctx, "DocumentService.Delete", trace.WithAttributes(attribute.String("document.id", id)))
	defer span.End()

	doc, err := s.owned(ctx, id, ownerID)
	if err != nil {
		return fail(span, err)
	}
	if !doc.Status.CanTransitionTo(model.StatusDeleted) {
		return fail(span, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, model.StatusDeleted))
	}

	log := s.log.WithFields(logrus.Fields{"document_id": id, "owner_id": ownerID})
	s.deleteBlob(ctx, log, doc.StoragePath)

	if err := s.repo.SoftDelete(ctx, id, doc.Status, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return fail(span, fmt.Errorf("%w: status changed during delete", ErrInvalidTransition))
		}
		if errors.Is(err, repository.ErrNotFound) {
			return fail(span, ErrNotFound)
		}
		return fail(span, fmt.Errorf("delete document: %w", err))
	}
	log.Info("document deleted")
	return nil
}

// owned loads a live document and hides foreign and deleted ones behind ErrNotFound.
func (s *documentService) owned(ctx context.Context, id, ownerID string) (*model.Document, error) {
	if id == "" || ownerID == "" {
		return nil, ErrNotFound
	}
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if doc.OwnerID != ownerID || doc.IsDeleted() {
		s.log.WithFields(logrus.Fields{"document_id": id, "owner_id": ownerID}).Debug("document hidden from requester")
		return nil, ErrNotFound
	}
	return doc, nil
}

func uploadOutcome(err error) string {
	if errors.Is(err, ErrValidation) {
		return metrics.UploadRejected
	}
	return metrics.UploadError
}

// fail records err on span and returns it.
func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
