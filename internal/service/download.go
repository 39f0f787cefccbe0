package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"docvault/internal/metrics"
	"docvault/internal/model"
	"docvault/internal/repository"
	"docvault/internal/storage"
)

func (s *documentService) RequestDownload(ctx context.Context, id, ownerID string) (*DownloadTicket, error) {
	ctx, span := s.tracer.Start(ctx, "DocumentService.RequestDownload", trace.WithAttributes(attribute.String("document.id", id)))
	defer span.End()

	doc, err := s.owned(ctx, id, ownerID)
	if err != nil {
		return nil, fail(span, err)
	}
	if doc.Status != model.StatusReady {
		return nil, fail(span, fmt.Errorf("%w: status %s", ErrNotReady, doc.Status))
	}

	tok, err := s.broker.Issue(ctx, doc.ID, ownerID)
	if err != nil {
		return nil, fail(span, fmt.Errorf("issue download token: %w", err))
	}
	s.metrics.TokenIssued()
	s.log.WithFields(logrus.Fields{"document_id": id, "owner_id": ownerID, "expires_at": tok.ExpiresAt}).Info("download token issued")

	return &DownloadTicket{
		DocumentID:  doc.ID,
		Token:       tok.Value,
		ExpiresAt:   tok.ExpiresAt,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		Size:        doc.Size,
	}, nil
}

// Fetch consumes the token before anything else, so a failed fetch still burns it.
func (s *documentService) Fetch(ctx context.Context, id, tokenValue string) (*Download, error) {
	ctx, span := s.tracer.Start(ctx, "DocumentService.Fetch", trace.WithAttributes(attribute.String("document.id", id)))
	defer span.End()
	log := s.log.WithField("document_id", id)

	grant, err := s.broker.Validate(ctx, id, tokenValue)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			s.metrics.Download(metrics.DownloadInvalidToken)
			log.WithField("error_class", "invalid_token").Info("download refused")
			return nil, fail(span, ErrInvalidToken)
		}
		s.metrics.Download(metrics.DownloadError)
		log.WithError(err).Error("token validation failed")
		return nil, fail(span, err)
	}

	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		s.metrics.Download(metrics.DownloadError)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fail(span, ErrNotFound)
		}
		return nil, fail(span, err)
	}
	if doc.IsDeleted() || doc.OwnerID != grant.OwnerID {
		s.metrics.Download(metrics.DownloadError)
		return nil, fail(span, ErrNotFound)
	}
	if doc.Status != model.StatusReady {
		s.metrics.Download(metrics.DownloadError)
		return nil, fail(span, fmt.Errorf("%w: status %s", ErrNotReady, doc.Status))
	}

	plain, err := openBlob(ctx, s.store, s.cipher, doc)
	if err != nil {
		if errors.Is(err, ErrCorruptedDocument) {
			s.metrics.Download(metrics.DownloadCorrupted)
			log.WithFields(logrus.Fields{
				"error_class":  "corrupted_document",
				"storage_path": doc.StoragePath,
			}).WithError(err).Error("stored document failed verification")
		} else {
			s.metrics.Download(metrics.DownloadError)
			log.WithFields(logrus.Fields{
				"storage_path": doc.StoragePath,
				"code":         storage.CodeOf(err),
			}).WithError(err).Error("document fetch failed")
		}
		return nil, fail(span, err)
	}

	if err := s.repo.MarkAccessed(ctx, doc.ID, s.now().UTC()); err != nil {
		log.WithError(err).Warn("failed to record access time")
	}
	s.metrics.Download(metrics.DownloadOK)
	log.WithField("owner_id", grant.OwnerID).Info("document downloaded")

	return &Download{
		Body:        io.NopCloser(bytes.NewReader(plain)),
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		Size:        int64(len(plain)),
	}, nil
}

func (s *documentService) StorageInfo(ctx context.Context, id, ownerID string) (*StorageInfo, error) {
	ctx, span := s.tracer.Start(ctx, "DocumentService.StorageInfo", trace.WithAttributes(attribute.String("document.id", id)))
	defer span.End()

	doc, err := s.owned(ctx, id, ownerID)
	if err != nil {
		return nil, fail(span, err)
	}

	info := &StorageInfo{DocumentID: doc.ID, Key: doc.StoragePath}
	exists, err := s.store.Exists(ctx, doc.StoragePath)
	if err != nil {
		return nil, fail(span, fmt.Errorf("%w: %w", ErrStorage, err))
	}
	info.Exists = exists
	if !exists {
		return info, nil
	}

	objs, err := s.store.List(ctx, doc.StoragePath, 1)
	if err != nil {
		return nil, fail(span, fmt.Errorf("%w: %w", ErrStorage, err))
	}
	if len(objs) > 0 && objs[0].Key == doc.StoragePath {
		info.Size = objs[0].Size
		info.ETag = objs[0].ETag
		info.LastModified = objs[0].LastModified
	}

	url, err := s.store.PresignGet(ctx, doc.StoragePath, s.presignTTL)
	if err != nil {
		// Not every backend can presign; the rest of the report is still useful.
		s.log.WithField("document_id", id).WithError(err).Warn("presign failed")
		return info, nil
	}
	info.PresignedURL = url
	info.URLExpiresAt = s.now().UTC().Add(s.presignTTL)
	return info, nil
}
