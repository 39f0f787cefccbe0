package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"docvault/internal/encryption"
	"docvault/internal/metrics"
	"docvault/internal/model"
	"docvault/internal/storage"
)

// Processor is a post-upload step. Any error moves the document to failed.
type Processor interface {
	Name() string
	Process(ctx context.Context, doc *model.Document) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc struct {
	ID string
	Fn func(ctx context.Context, doc *model.Document) error
}

func (p ProcessorFunc) Name() string { return p.ID }

func (p ProcessorFunc) Process(ctx context.Context, doc *model.Document) error { return p.Fn(ctx, doc) }

// IntegrityVerifier reads the stored blob back and checks that it decrypts to the recorded hash.
type IntegrityVerifier struct {
	store  storage.Storage
	cipher Cipher
}

func NewIntegrityVerifier(store storage.Storage, cipher Cipher) *IntegrityVerifier {
	return &IntegrityVerifier{store: store, cipher: cipher}
}

func (v *IntegrityVerifier) Name() string { return "integrity" }

func (v *IntegrityVerifier) Process(ctx context.Context, doc *model.Document) error {
	plain, err := openBlob(ctx, v.store, v.cipher, doc)
	if err != nil {
		return err
	}
	if int64(len(plain)) != doc.Size {
		return fmt.Errorf("%w: size %d, recorded %d", ErrCorruptedDocument, len(plain), doc.Size)
	}
	return nil
}

// openBlob fetches, unwraps and decrypts a document and verifies its hash.
// Storage failures wrap ErrStorage; every cryptographic or integrity failure wraps ErrCorruptedDocument.
func openBlob(ctx context.Context, store storage.Storage, cipher Cipher, doc *model.Document) ([]byte, error) {
	rc, _, err := store.Get(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	defer rc.Close()

	blob, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read blob: %w", ErrStorage, err)
	}

	key, err := cipher.UnwrapKey(doc.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap key: %w", ErrCorruptedDocument, err)
	}
	plain, err := cipher.Decrypt(string(blob), key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptedDocument, err)
	}
	if !encryption.VerifyHash(plain, doc.ContentHash) {
		return nil, fmt.Errorf("%w: content hash mismatch", ErrCorruptedDocument)
	}
	return plain, nil
}

// process runs every processor and records the outcome. It returns the resulting status.
func (s *documentService) process(ctx context.Context, doc *model.Document) model.Status {
	log := s.log.WithField("document_id", doc.ID)
	start := s.now()

	next, reason := model.StatusReady, ""
	for _, p := range s.processors {
		if err := p.Process(ctx, doc); err != nil {
			next, reason = model.StatusFailed, fmt.Sprintf("%s: %v", p.Name(), err)
			log.WithField("processor", p.Name()).WithError(err).Error("document processing failed")
			break
		}
	}
	s.metrics.ObserveProcessing(s.now().Sub(start))

	// Status bookkeeping must survive a request that has already returned.
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.repo.UpdateStatus(uctx, doc.ID, model.StatusProcessing, next, reason); err != nil {
		log.WithError(err).Error("failed to record processing outcome")
		return model.StatusProcessing
	}

	doc.Status, doc.FailureReason = next, reason
	if next == model.StatusReady {
		s.metrics.Upload(metrics.UploadReady)
	} else {
		s.metrics.Upload(metrics.UploadFailed)
	}
	log.WithField("status", next).Info("document processed")
	return next
}
