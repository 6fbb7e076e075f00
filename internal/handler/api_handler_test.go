package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/recipeman/internal/cache"
	"github.com/hitoshi/recipeman/internal/image"
	"github.com/hitoshi/recipeman/internal/middleware"
	"github.com/hitoshi/recipeman/internal/model"
	"github.com/hitoshi/recipeman/internal/storage/minio"
)

func TestProductsAPI_ReturnsCollection(t *testing.T) {
	w := httptest.NewRecorder()
	ProductsAPI(&mockProducts{products: sampleProducts()})(w, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var got []model.Product
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(got) != 2 || got[0].ID != "p-1" || got[1].ID != "p-2" {
		t.Errorf("products = %+v", got)
	}
}

func TestProductsAPI_Empty_ReturnsArray(t *testing.T) {
	w := httptest.NewRecorder()
	ProductsAPI(&mockProducts{products: []model.Product{}})(w, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestProductsAPI_LoadError_Returns503(t *testing.T) {
	w := httptest.NewRecorder()
	ProductsAPI(&mockProducts{loadErr: cache.ErrCorruptSnapshot})(w, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeCacheUnavailable {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeCacheUnavailable)
	}
}

func imageRouter(images ImageOpener) http.Handler {
	r := chi.NewRouter()
	r.Get("/images/{key}", ServeImage(images))
	return r
}

func TestServeImage_StreamsObject(t *testing.T) {
	images := &mockImages{
		openFn: func(ctx context.Context, key string) (io.ReadCloser, minio.ObjectInfo, error) {
			if key != "abc.png" {
				t.Errorf("key = %q, want abc.png", key)
			}
			return io.NopCloser(strings.NewReader("PNG")), minio.ObjectInfo{Key: key, Size: 3, ContentType: "image/png"}, nil
		},
	}

	w := httptest.NewRecorder()
	imageRouter(images).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/images/abc.png", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cl := w.Header().Get("Content-Length"); cl != "3" {
		t.Errorf("Content-Length = %q", cl)
	}
	if w.Body.String() != "PNG" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestServeImage_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid key", image.ErrInvalidKey, http.StatusNotFound},
		{"not found", image.ErrNotFound, http.StatusNotFound},
		{"storage error", errors.New("minio down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			images := &mockImages{
				openFn: func(ctx context.Context, key string) (io.ReadCloser, minio.ObjectInfo, error) {
					return nil, minio.ObjectInfo{}, tt.err
				},
			}

			w := httptest.NewRecorder()
			imageRouter(images).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/images/x.png", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"ok", nil, http.StatusOK, "ok"},
		{"db down", errors.New("connection refused"), http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			Health(&mockPinger{err: tt.err})(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body["status"] != tt.wantBody {
				t.Errorf("status field = %q, want %q", body["status"], tt.wantBody)
			}
		})
	}
}
