package handler

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"docvault/internal/http/middleware"
	"docvault/internal/model"
	"docvault/internal/service"
)

// Pinger is the dependency probed by /health; *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// db may be nil when document records are kept in memory.
func RegisterRoutes(app *fiber.App, db Pinger, docSvc service.DocumentService) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	owner := middleware.OwnerScope()
	app.Get("/documents", owner, ListDocuments(docSvc))
	app.Post("/documents", owner, UploadDocument(docSvc))
	app.Get("/documents/:id", owner, GetDocument(docSvc))
	app.Delete("/documents/:id", owner, DeleteDocument(docSvc))
	app.Get("/documents/:id/storage", owner, StorageInfo(docSvc))
	app.Post("/documents/:id/download", owner, RequestDownload(docSvc))

	// The token is the credential; no owner header is required.
	app.Get("/documents/:id/download/:token", DownloadDocument(docSvc))
}

// HealthCheck godoc
// @Summary Readiness probe
// @Description Checks database connectivity
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} errorPayload
// @Router /health [get]
func HealthCheck(db Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
			}
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe godoc
// @Summary Liveness probe
// @Tags health
// @Success 200
// @Router /healthz [get]
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// ListDocuments godoc
// @Summary List the owner's documents
// @Tags documents
// @Produce json
// @Param X-Owner-ID header string true "Owner ID"
// @Param limit query int false "Page size" default(10)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} service.DocumentListResult
// @Failure 400 {object} errorPayload
// @Router /documents [get]
func ListDocuments(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := docSvc.List(c.UserContext(), middleware.OwnerID(c), limit, offset)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// UploadDocument godoc
// @Summary Upload a document
// @Description Multipart upload; the file is encrypted before it reaches object storage
// @Tags documents
// @Accept mpfd
// @Produce json
// @Param X-Owner-ID header string true "Owner ID"
// @Param file formData file true "Document"
// @Param client_id formData string false "Client ID"
// @Param category formData string false "Category"
// @Param description formData string false "Description"
// @Param tags formData string false "Comma separated tags"
// @Param metadata formData string false "JSON object of string, number or bool values"
// @Success 201 {object} service.UploadResult
// @Failure 400 {object} errorPayload
// @Failure 502 {object} errorPayload
// @Failure 504 {object} errorPayload
// @Router /documents [post]
func UploadDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}

		var meta model.Metadata
		if raw := c.FormValue("metadata"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_METADATA", "metadata must be a JSON object of string, number or bool values")
			}
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		res, err := docSvc.Upload(c.UserContext(), service.UploadInput{
			OwnerID:     middleware.OwnerID(c),
			ClientID:    c.FormValue("client_id"),
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
			Category:    c.FormValue("category"),
			Description: c.FormValue("description"),
			Tags:        service.ParseTags(c.FormValue("tags")),
			Metadata:    meta,
		})
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	}
}

// GetDocument godoc
// @Summary Get document metadata
// @Tags documents
// @Produce json
// @Param X-Owner-ID header string true "Owner ID"
// @Param id path string true "Document ID"
// @Success 200 {object} model.Document
// @Failure 404 {object} errorPayload
// @Router /documents/{id} [get]
func GetDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := documentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		doc, err := docSvc.Get(c.UserContext(), id, middleware.OwnerID(c))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(doc)
	}
}

// DeleteDocument godoc
// @Summary Delete a document
// @Tags documents
// @Param X-Owner-ID header string true "Owner ID"
// @Param id path string true "Document ID"
// @Success 204
// @Failure 404 {object} errorPayload
// @Failure 409 {object} errorPayload
// @Router /documents/{id} [delete]
func DeleteDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := documentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := docSvc.Delete(c.UserContext(), id, middleware.OwnerID(c)); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// StorageInfo godoc
// @Summary Inspect the stored ciphertext object
// @Tags documents
// @Produce json
// @Param X-Owner-ID header string true "Owner ID"
// @Param id path string true "Document ID"
// @Success 200 {object} service.StorageInfo
// @Failure 404 {object} errorPayload
// @Router /documents/{id}/storage [get]
func StorageInfo(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := documentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		info, err := docSvc.StorageInfo(c.UserContext(), id, middleware.OwnerID(c))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(info)
	}
}

func documentID(c *fiber.Ctx) (string, bool) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}
