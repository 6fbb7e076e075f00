package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/recipeman/internal/image"
	"github.com/hitoshi/recipeman/internal/middleware"
	"github.com/hitoshi/recipeman/internal/model"
	"github.com/hitoshi/recipeman/internal/storage/minio"
)

// ProductsAPI は公開中のレシピコレクションをJSONで返す。
// GET /api/products
func ProductsAPI(products ProductsReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := products.EnsureLoaded(r.Context()); err != nil {
			slog.ErrorContext(r.Context(), "failed to load products",
				slog.String("error", err.Error()),
			)
			middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewCacheUnavailableError())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(products.Products())
	}
}

// ImageOpener は保存済み画像を読み出す。image.Serviceが満たす。
type ImageOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, minio.ObjectInfo, error)
}

// ServeImage は保存済みのレシピ画像を配信する。
// GET /images/{key}
func ServeImage(images ImageOpener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")

		body, info, err := images.Open(r.Context(), key)
		if err != nil {
			if errors.Is(err, image.ErrInvalidKey) || errors.Is(err, image.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			slog.ErrorContext(r.Context(), "failed to open image",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		defer body.Close()

		// キーはUUIDで内容は不変
		w.Header().Set("Content-Type", info.ContentType)
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		if info.Size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		}
		if _, err := io.Copy(w, body); err != nil {
			slog.WarnContext(r.Context(), "failed to stream image",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// HealthChecker は依存サービスの疎通を確認する。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Health はDBへの疎通を確認して結果を返す。
// GET /health
func Health(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := checker.PingContext(r.Context()); err != nil {
			slog.ErrorContext(r.Context(), "health check failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
