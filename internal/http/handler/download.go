package handler

import (
	"mime"
	"time"

	"github.com/gofiber/fiber/v2"

	"docvault/internal/http/middleware"
	"docvault/internal/service"
)

// downloadTicketResponse is returned by POST /documents/:id/download.
type downloadTicketResponse struct {
	Token       string    `json:"token"`
	URL         string    `json:"url"`
	ExpiresAt   time.Time `json:"expires_at"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
}

// RequestDownload godoc
// @Summary Issue a single-use download token
// @Tags downloads
// @Produce json
// @Param X-Owner-ID header string true "Owner ID"
// @Param id path string true "Document ID"
// @Success 200 {object} downloadTicketResponse
// @Failure 404 {object} errorPayload
// @Failure 409 {object} errorPayload
// @Router /documents/{id}/download [post]
func RequestDownload(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := documentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		t, err := docSvc.RequestDownload(c.UserContext(), id, middleware.OwnerID(c))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(downloadTicketResponse{
			Token:       t.Token,
			URL:         c.BaseURL() + "/documents/" + id + "/download/" + t.Token,
			ExpiresAt:   t.ExpiresAt,
			Filename:    t.Filename,
			ContentType: t.ContentType,
			Size:        t.Size,
		})
	}
}

// DownloadDocument godoc
// @Summary Redeem a download token
// @Description Streams the decrypted document. Each token works once.
// @Tags downloads
// @Produce octet-stream
// @Param id path string true "Document ID"
// @Param token path string true "Download token"
// @Success 200 {file} file
// @Failure 403 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Failure 500 {object} errorPayload
// @Router /documents/{id}/download/{token} [get]
func DownloadDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := documentID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		dl, err := docSvc.Fetch(c.UserContext(), id, c.Params("token"))
		if err != nil {
			return writeServiceError(c, err)
		}

		c.Set(fiber.HeaderContentType, dl.ContentType)
		c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.SendStream(dl.Body, int(dl.Size))
	}
}
