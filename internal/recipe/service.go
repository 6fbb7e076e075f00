package recipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/hitoshi/recipeman/internal/cache"
	"github.com/hitoshi/recipeman/internal/image"
	"github.com/hitoshi/recipeman/internal/model"
	"github.com/hitoshi/recipeman/internal/security"
	"github.com/hitoshi/recipeman/internal/store"
)

// maxTitleLength はタイトルの最大文字数。productsテーブルの列長と揃える。
const maxTitleLength = 255

// ImagePathPrefix は自前の画像ストレージが配信するパス。
// この接頭辞を持つ値は外部URL検証の代わりにオブジェクトキーの形式を検証する。
const ImagePathPrefix = "/images/"

// Collection はレシピコレクションのキャッシュ。
type Collection interface {
	EnsureLoaded(ctx context.Context) error
	Source() cache.Source
	Products() []model.Product
	Overwrite(ctx context.Context, products []model.Product) error
}

// Input はフォームから受け取るレシピ入力。
type Input struct {
	Title       string
	Description string
	Image       string
}

// Service はレシピの変更フローを提供する。
type Service struct {
	gateway   store.ProductGateway
	cache     Collection
	sanitizer security.TextSanitizer
	guard     security.URLGuard
	logger    *slog.Logger

	// mu は読み込みから上書きまでの変更フローを直列化する
	mu sync.Mutex
}

// NewService はServiceを生成する。
func NewService(gateway store.ProductGateway, cache Collection, sanitizer security.TextSanitizer, guard security.URLGuard, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gateway:   gateway,
		cache:     cache,
		sanitizer: sanitizer,
		guard:     guard,
		logger:    logger,
	}
}

// Add はレシピを作成し、作成結果を末尾に加えたコレクションでキャッシュを上書きする。
func (s *Service) Add(ctx context.Context, in Input) (model.Product, error) {
	fields, err := s.normalize(in)
	if err != nil {
		return model.Product{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return model.Product{}, err
	}

	created, err := s.gateway.Create(ctx, fields)
	if err != nil {
		return model.Product{}, err
	}

	s.overwrite(ctx, ApplyAdd(s.cache.Products(), created))
	return created, nil
}

// Update はレシピを更新し、更新内容を反映したコレクションでキャッシュを上書きする。
func (s *Service) Update(ctx context.Context, id string, in Input) error {
	if id == "" {
		return model.NewInvalidProductError("IDが指定されていません")
	}
	fields, err := s.normalize(in)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	if err := s.gateway.Update(ctx, id, fields); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.NewProductNotFoundError(id)
		}
		return err
	}

	s.overwrite(ctx, ApplyUpdate(s.cache.Products(), id, fields))
	return nil
}

// Delete はレシピを削除し、該当要素を除いたコレクションでキャッシュを上書きする。
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return model.NewInvalidProductError("IDが指定されていません")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	if err := s.gateway.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.NewProductNotFoundError(id)
		}
		return err
	}

	s.overwrite(ctx, ApplyDelete(s.cache.Products(), id))
	return nil
}

// ensureLoaded は変更の土台となるコレクションを確定させる。
// リモート取得に失敗して公開中の空のコレクションの上には変更を加えない。
func (s *Service) ensureLoaded(ctx context.Context) error {
	if err := s.cache.EnsureLoaded(ctx); err != nil {
		return fmt.Errorf("failed to load products: %w", err)
	}
	if s.cache.Source() == cache.SourceRemoteFailed {
		return model.NewCacheUnavailableError()
	}
	return nil
}

// overwrite はキャッシュを上書きする。スナップショット書き込みの失敗はログのみ。
func (s *Service) overwrite(ctx context.Context, products []model.Product) {
	if err := s.cache.Overwrite(ctx, products); err != nil {
		s.logger.WarnContext(ctx, "products cache overwrite failed",
			slog.String("error", err.Error()),
		)
	}
}

// normalize は入力をサニタイズ・検証してProductFieldsに変換する。
func (s *Service) normalize(in Input) (model.ProductFields, error) {
	title := s.sanitizer.Clean(in.Title)
	description := s.sanitizer.Clean(in.Description)
	imageURL := strings.TrimSpace(in.Image)

	if title == "" {
		return model.ProductFields{}, model.NewInvalidProductError("タイトルは必須です")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return model.ProductFields{}, model.NewInvalidProductError(fmt.Sprintf("タイトルは%d文字以内で入力してください", maxTitleLength))
	}
	if description == "" {
		return model.ProductFields{}, model.NewInvalidProductError("説明は必須です")
	}
	if key, ok := strings.CutPrefix(imageURL, ImagePathPrefix); ok {
		if !image.ValidKey(key) {
			return model.ProductFields{}, model.NewInvalidImageURLError("画像パスが正しくありません")
		}
	} else if err := s.guard.ValidateImageURL(imageURL); err != nil {
		return model.ProductFields{}, model.NewInvalidImageURLError(err.Error())
	}

	return model.NewProductFields(title, description, imageURL), nil
}
