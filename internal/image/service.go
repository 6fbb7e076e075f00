// Package image はレシピ画像のアップロードと外部URLからの取り込みを提供する。
package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/recipeman/internal/security"
	"github.com/hitoshi/recipeman/internal/storage/minio"
)

var (
	// ErrTooLarge は画像が上限サイズを超えた場合に返す。
	ErrTooLarge = errors.New("image too large")
	// ErrUnsupportedType は許可されていない形式の場合に返す。
	ErrUnsupportedType = errors.New("unsupported image type")
	// ErrInvalidKey はオブジェクトキーの形式が不正な場合に返す。
	ErrInvalidKey = errors.New("invalid image key")
	// ErrFetchFailed は外部URLからの取得に失敗した場合に返す。
	ErrFetchFailed = errors.New("failed to fetch image")
	// ErrNotFound は画像が存在しない場合に返す。
	ErrNotFound = minio.ErrObjectNotFound
)

// 許可する画像形式と拡張子。
var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var keyPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.(png|jpg|gif|webp)$`)

// Storage は画像オブジェクトの保存先。minio.Clientが満たす。
type Storage interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, minio.ObjectInfo, error)
}

// Service は画像の検証・保存を行う。
type Service struct {
	storage    Storage
	guard      security.URLGuard
	client     *http.Client
	maxSize    int64
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewService はServiceを生成する。外部URLの取得にはSSRF対策済みのクライアントを使う。
func NewService(storage Storage, guard security.URLGuard, maxSize int64, fetchTimeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		storage:    storage,
		guard:      guard,
		client:     guard.NewSafeClient(fetchTimeout),
		maxSize:    maxSize,
		retryDelay: initialRetryDelay,
		logger:     logger,
	}
}

// MaxSize は受け付ける画像の上限バイト数を返す。
func (s *Service) MaxSize() int64 {
	return s.maxSize
}

// Upload はアップロードされた画像を保存し、オブジェクトキーを返す。
func (s *Service) Upload(ctx context.Context, r io.Reader) (string, error) {
	return s.store(ctx, r)
}

// Mirror は外部URLの画像を取得して保存し、オブジェクトキーを返す。
// URLがHTMLページを指す場合は、ページの代表画像（OGPなど）を1回だけ辿る。
func (s *Service) Mirror(ctx context.Context, rawURL string) (string, error) {
	// 1. URLの検証と取得
	resp, err := s.fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// 2. レシピページなら代表画像を取得し直す
	if isHTML(resp.Header.Get("Content-Type")) {
		page, err := io.ReadAll(io.LimitReader(resp.Body, s.maxSize))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		imageURL := findPageImage(page, resp.Request.URL.String())
		if imageURL == "" {
			return "", fmt.Errorf("%w: no image found in page", ErrFetchFailed)
		}
		s.logger.InfoContext(ctx, "following page image",
			slog.String("page_url", rawURL),
			slog.String("image_url", imageURL),
		)

		resp, err = s.fetch(ctx, imageURL)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
	}

	if resp.ContentLength > s.maxSize {
		return "", ErrTooLarge
	}

	// 3. 保存
	return s.store(ctx, resp.Body)
}

// fetch はURLを検証し、SSRF対策済みクライアントで取得する。
// 429/5xxと通信エラーは指数バックオフで再試行する。
// 成功時のレスポンスボディは呼び出し元が閉じる。
func (s *Service) fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty url", ErrFetchFailed)
	}
	if err := s.guard.ValidateImageURL(rawURL); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrFetchFailed, ctx.Err())
			case <-time.After(retryDelay(s.retryDelay, attempt-1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrFetchFailed, err)
			continue
		}

		switch classifyStatus(resp.StatusCode) {
		case fetchOK:
			return resp, nil
		case fetchRetry:
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
			s.logger.WarnContext(ctx, "retrying image fetch",
				slog.String("url", rawURL),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
			)
		default:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
		}
	}
	return nil, lastErr
}

// ValidKey はkeyがこのサービスの発行するオブジェクトキーの形式かを返す。
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Open は保存済み画像を返す。呼び出し元はReadCloserを閉じる。
func (s *Service) Open(ctx context.Context, key string) (io.ReadCloser, minio.ObjectInfo, error) {
	if !ValidKey(key) {
		return nil, minio.ObjectInfo{}, ErrInvalidKey
	}
	return s.storage.Get(ctx, key)
}

// store は上限+1バイトまで読み込み、形式を判定して保存する。
func (s *Service) store(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return "", ErrTooLarge
	}

	contentType := http.DetectContentType(data)
	ext, ok := extensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	key := uuid.NewString() + ext
	if err := s.storage.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		s.logger.ErrorContext(ctx, "failed to store image",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("failed to store image: %w", err)
	}

	s.logger.InfoContext(ctx, "image stored",
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.String("content_type", contentType),
	)
	return key, nil
}

// compile-time interface check
var _ Storage = (*minio.Client)(nil)
