package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docvault/internal/http/middleware"
	"docvault/internal/model"
	"docvault/internal/service"
	serviceMocks "docvault/internal/service/mocks"
	"docvault/internal/storage"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testOwner = uuid.NewString()

func newTestApp(svc service.DocumentService) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(),
	})
	app.Use(middleware.RequestID())
	RegisterRoutes(app, nil, svc)
	return app
}

func ownedRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set(middleware.OwnerIDHeader, testOwner)
	return req
}

func decodeError(t *testing.T, resp *http.Response) errorPayload {
	t.Helper()
	var body errorPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthCheck(t *testing.T) {
	db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	app := fiber.New()
	app.Get("/health", HealthCheck(db))

	t.Run("healthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(errors.New("db error"))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, resp).Error.Code)
	})

	t.Run("no database configured", func(t *testing.T) {
		app := fiber.New()
		app.Get("/health", HealthCheck(nil))

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListDocuments(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := newTestApp(mockSvc)

	t.Run("success", func(t *testing.T) {
		expectedRes := &service.DocumentListResult{
			Items: []model.Document{{ID: uuid.NewString(), OwnerID: testOwner, Filename: "test.pdf"}},
			Total: 1,
		}
		mockSvc.On("List", mock.Anything, testOwner, 10, 0).Return(expectedRes, nil).Once()

		resp, _ := app.Test(ownedRequest(http.MethodGet, "/documents?limit=10&offset=0", nil))

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result service.DocumentListResult
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Len(t, result.Items, 1)
		assert.Equal(t, 1, result.Total)
		mockSvc.AssertExpectations(t)
	})

	t.Run("invalid limit", func(t *testing.T) {
		resp, _ := app.Test(ownedRequest(http.MethodGet, "/documents?limit=abc", nil))

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_LIMIT", decodeError(t, resp).Error.Code)
	})

	t.Run("invalid offset", func(t *testing.T) {
		resp, _ := app.Test(ownedRequest(http.MethodGet, "/documents?offset=x", nil))

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_OFFSET", decodeError(t, resp).Error.Code)
	})

	t.Run("missing owner", func(t *testing.T) {
		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/documents", nil))

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "UNAUTHORIZED", decodeError(t, resp).Error.Code)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("List", mock.Anything, testOwner, 10, 0).Return(nil, errors.New("service error")).Once()

		req := ownedRequest(http.MethodGet, "/documents", nil)
		req.Header.Set(middleware.RequestIDHeader, "rid-1")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		body := decodeError(t, resp)
		assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
		assert.Equal(t, "rid-1", body.RequestID)
		mockSvc.AssertExpectations(t)
	})
}

func multipartUpload(t *testing.T, filename, contentType string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename)}
	h["Content-Type"] = []string{contentType}
	part, err := writer.CreatePart(h)
	require.NoError(t, err)
	part.Write(content)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestUploadDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := newTestApp(mockSvc)

	t.Run("success", func(t *testing.T) {
		body, ct := multipartUpload(t, "report.pdf", "application/pdf", []byte("%PDF-1.7"), map[string]string{
			"client_id":   "client-7",
			"category":    "invoices",
			"description": "march",
			"tags":        "finance, q1 ,finance",
			"metadata":    `{"pages":3,"signed":true}`,
		})

		id := uuid.NewString()
		expected := &service.UploadResult{ID: id, Status: model.StatusReady, CreatedAt: time.Now().UTC()}
		mockSvc.On("Upload", mock.Anything, mock.MatchedBy(func(in service.UploadInput) bool {
			return in.OwnerID == testOwner &&
				in.ClientID == "client-7" &&
				in.Filename == "report.pdf" &&
				in.ContentType == "application/pdf" &&
				in.Size == 8 &&
				in.Category == "invoices" &&
				in.Description == "march" &&
				assert.ObjectsAreEqual([]string{"finance", "q1"}, in.Tags) &&
				in.Metadata["pages"].Interface() == float64(3) &&
				in.Metadata["signed"].Interface() == true
		})).Return(expected, nil).Once()

		req := ownedRequest(http.MethodPost, "/documents", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, id, result["id"])
		assert.Equal(t, "ready", result["status"])
		assert.NotEmpty(t, result["createdAt"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("no file", func(t *testing.T) {
		resp, _ := app.Test(ownedRequest(http.MethodPost, "/documents", nil))

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "FILE_REQUIRED", decodeError(t, resp).Error.Code)
	})

	t.Run("bad metadata", func(t *testing.T) {
		body, ct := multipartUpload(t, "a.pdf", "application/pdf", []byte("x"), map[string]string{
			"metadata": `{"nested":{"a":1}}`,
		})
		req := ownedRequest(http.MethodPost, "/documents", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_METADATA", decodeError(t, resp).Error.Code)
	})

	errCases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &service.ValidationError{Field: "file", Reason: "type not allowed"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"storage", fmt.Errorf("%w: %w", service.ErrStorage, &storage.Error{Op: "put", Kind: storage.KindTransient}), http.StatusBadGateway, "STORAGE_UNAVAILABLE"},
		{"timeout", service.ErrTimeout, http.StatusGatewayTimeout, "TIMEOUT"},
		{"encryption", fmt.Errorf("%w: bad key", service.ErrEncryption), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartUpload(t, "a.exe", "application/pdf", []byte("MZ"), nil)
			mockSvc.On("Upload", mock.Anything, mock.Anything).Return(nil, tc.err).Once()

			req := ownedRequest(http.MethodPost, "/documents", body)
			req.Header.Set("Content-Type", ct)
			resp, _ := app.Test(req)

			assert.Equal(t, tc.status, resp.StatusCode)
			payload := decodeError(t, resp)
			assert.Equal(t, tc.code, payload.Error.Code)
			assert.NotContains(t, payload.Error.Message, "put")
			mockSvc.AssertExpectations(t)
		})
	}
}

func TestGetDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := newTestApp(mockSvc)

	t.Run("success", func(t *testing.T) {
		id := uuid.NewString()
		expectedDoc := &model.Document{ID: id, OwnerID: testOwner, Filename: "test.txt", WrappedKey: "secret"}
		mockSvc.On("Get", mock.Anything, id, testOwner).Return(expectedDoc, nil).Once()

		resp, _ := app.Test(ownedRequest(http.MethodGet, "/documents/"+id, nil))

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		raw, _ := io.ReadAll(resp.Body)
		assert.NotContains(t, string(raw), "secret")
		var result model.Document
		require.NoError(t, json.Unmarshal(raw, &result))
		assert.Equal(t, id, result.ID)
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("Get", mock.Anything, id, testOwner).Return(nil, service.ErrNotFound).Once()

		resp, _ := app.Test(ownedRequest(http.MethodGet, "/documents/"+id, nil))

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
		mockSvc.AssertExpectations(t)
	})

	t.Run("invalid id", func(t *testing.T) {
		resp, _ := app.Test(ownedRequest(http.MethodGet, "/documents/invalid-uuid", nil))

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_ID", decodeError(t, resp).Error.Code)
	})

	t.Run("service error", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("Get", mock.Anything, id, testOwner).Return(nil, errors.New("db error")).Once()

		resp, _ := app.Test(ownedRequest(http.MethodGet, "/documents/"+id, nil))

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestDeleteDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := newTestApp(mockSvc)

	t.Run("success", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("Delete", mock.Anything, id, testOwner).Return(nil).Once()

		resp, _ := app.Test(ownedRequest(http.MethodDelete, "/documents/"+id, nil))

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("Delete", mock.Anything, id, testOwner).Return(service.ErrNotFound).Once()

		resp, _ := app.Test(ownedRequest(http.MethodDelete, "/documents/"+id, nil))

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
		mockSvc.AssertExpectations(t)
	})

	t.Run("still processing", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("Delete", mock.Anything, id, testOwner).Return(fmt.Errorf("%w: processing -> deleted", service.ErrInvalidTransition)).Once()

		resp, _ := app.Test(ownedRequest(http.MethodDelete, "/documents/"+id, nil))

		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "INVALID_STATE", decodeError(t, resp).Error.Code)
		mockSvc.AssertExpectations(t)
	})

	t.Run("service error", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("Delete", mock.Anything, id, testOwner).Return(errors.New("delete error")).Once()

		resp, _ := app.Test(ownedRequest(http.MethodDelete, "/documents/"+id, nil))

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestRequestDownload(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := newTestApp(mockSvc)

	t.Run("success", func(t *testing.T) {
		id := uuid.NewString()
		exp := time.Date(2024, 3, 15, 10, 5, 0, 0, time.UTC)
		mockSvc.On("RequestDownload", mock.Anything, id, testOwner).Return(&service.DownloadTicket{
			DocumentID:  id,
			Token:       "tok",
			ExpiresAt:   exp,
			Filename:    "report.pdf",
			ContentType: "application/pdf",
			Size:        42,
		}, nil).Once()

		resp, _ := app.Test(ownedRequest(http.MethodPost, "/documents/"+id+"/download", nil))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body downloadTicketResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "tok", body.Token)
		assert.True(t, strings.HasSuffix(body.URL, "/documents/"+id+"/download/tok"))
		assert.True(t, exp.Equal(body.ExpiresAt))
		assert.Equal(t, "report.pdf", body.Filename)
		assert.Equal(t, int64(42), body.Size)
		mockSvc.AssertExpectations(t)
	})

	t.Run("not ready", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("RequestDownload", mock.Anything, id, testOwner).Return(nil, service.ErrNotReady).Once()

		resp, _ := app.Test(ownedRequest(http.MethodPost, "/documents/"+id+"/download", nil))

		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "NOT_READY", decodeError(t, resp).Error.Code)
	})

	t.Run("foreign owner looks missing", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("RequestDownload", mock.Anything, id, testOwner).Return(nil, service.ErrNotFound).Once()

		resp, _ := app.Test(ownedRequest(http.MethodPost, "/documents/"+id+"/download", nil))

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestDownloadDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := newTestApp(mockSvc)

	t.Run("streams decrypted content without owner header", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("Fetch", mock.Anything, id, "tok").Return(&service.Download{
			Body:        io.NopCloser(strings.NewReader("hello vault")),
			Filename:    "report.pdf",
			ContentType: "application/pdf",
			Size:        11,
		}, nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/documents/"+id+"/download/tok", nil))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "report.pdf")
		raw, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "hello vault", string(raw))
		mockSvc.AssertExpectations(t)
	})

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid token", service.ErrInvalidToken, http.StatusForbidden, "INVALID_TOKEN"},
		{"missing document", service.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"corrupted", fmt.Errorf("%w: hash mismatch", service.ErrCorruptedDocument), http.StatusInternalServerError, "CORRUPTED_DOCUMENT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := uuid.NewString()
			mockSvc.On("Fetch", mock.Anything, id, "tok").Return(nil, tc.err).Once()

			resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/documents/"+id+"/download/tok", nil))

			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, decodeError(t, resp).Error.Code)
		})
	}
}

func TestStorageInfo(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := newTestApp(mockSvc)

	id := uuid.NewString()
	mockSvc.On("StorageInfo", mock.Anything, id, testOwner).Return(&service.StorageInfo{
		DocumentID: id,
		Key:        testOwner + "/2024/03/" + id + ".pdf",
		Exists:     true,
		Size:       64,
	}, nil).Once()

	resp, _ := app.Test(ownedRequest(http.MethodGet, "/documents/"+id+"/storage", nil))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var info service.StorageInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.True(t, info.Exists)
	assert.Equal(t, int64(64), info.Size)
	mockSvc.AssertExpectations(t)
}

func TestRouting(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := newTestApp(mockSvc)

	t.Run("not found route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/non-existent", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		// Health endpoint only allows GET
		req := httptest.NewRequest(http.MethodPost, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, resp).Error.Code)
	})
}
