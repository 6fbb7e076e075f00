package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/recipeman/internal/image"
	"github.com/hitoshi/recipeman/internal/model"
	"github.com/hitoshi/recipeman/internal/recipe"
	"github.com/hitoshi/recipeman/internal/security"
)

// maxFormMemory はマルチパートフォームをメモリに保持する上限。超過分は一時ファイルになる。
const maxFormMemory = 8 << 20

// RecipeService はレシピの変更フローを提供する。recipe.Serviceが満たす。
type RecipeService interface {
	Add(ctx context.Context, in recipe.Input) (model.Product, error)
	Update(ctx context.Context, id string, in recipe.Input) error
	Delete(ctx context.Context, id string) error
}

// ImageService はレシピ画像の保存を提供する。image.Serviceが満たす。
// 画像ストレージが無効な場合はnil。
type ImageService interface {
	Upload(ctx context.Context, r io.Reader) (string, error)
	Mirror(ctx context.Context, rawURL string) (string, error)
	MaxSize() int64
}

// ProductHandler はダッシュボードからのレシピ変更を処理する。
// いずれの操作も完了後にダッシュボードへ303でリダイレクトする。
type ProductHandler struct {
	recipes RecipeService
	images  ImageService
}

// NewProductHandler はProductHandlerを生成する。imagesはnil可。
func NewProductHandler(recipes RecipeService, images ImageService) *ProductHandler {
	return &ProductHandler{
		recipes: recipes,
		images:  images,
	}
}

// Add はレシピを追加する。
// POST /dashboard/products
func (h *ProductHandler) Add(w http.ResponseWriter, r *http.Request) {
	in, err := h.readInput(r)
	if err != nil {
		h.fail(w, r, "add", "", err)
		return
	}

	if _, err := h.recipes.Add(r.Context(), in); err != nil {
		h.fail(w, r, "add", "", err)
		return
	}

	redirectDashboard(w, r, "notice", "added")
}

// Update はレシピを更新する。
// POST /dashboard/products/{id}
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	in, err := h.readInput(r)
	if err != nil {
		h.fail(w, r, "update", id, err)
		return
	}

	if err := h.recipes.Update(r.Context(), id, in); err != nil {
		h.fail(w, r, "update", id, err)
		return
	}

	redirectDashboard(w, r, "notice", "updated")
}

// Delete はレシピを削除する。
// POST /dashboard/products/{id}/delete
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.recipes.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "delete", id, err)
		return
	}

	redirectDashboard(w, r, "notice", "deleted")
}

// readInput はフォームを解析し、画像を解決したレシピ入力を返す。
func (h *ProductHandler) readInput(r *http.Request) (recipe.Input, error) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return recipe.Input{}, h.formError(err)
	}

	imageURL, err := h.resolveImage(r)
	if err != nil {
		return recipe.Input{}, err
	}

	return recipe.Input{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Image:       imageURL,
	}, nil
}

// resolveImage はフォームの画像指定を保存先のパスまたはURLに変換する。
// 優先順位: アップロードファイル → 取り込み指定のURL → 入力されたURLそのまま
func (h *ProductHandler) resolveImage(r *http.Request) (string, error) {
	imageURL := strings.TrimSpace(r.FormValue("image"))
	if h.images == nil {
		return imageURL, nil
	}

	// 1. アップロードファイル
	file, _, err := r.FormFile("image_file")
	if err == nil {
		defer file.Close()
		key, err := h.images.Upload(r.Context(), file)
		if err != nil {
			return "", h.imageError(err)
		}
		return recipe.ImagePathPrefix + key, nil
	}

	// 2. 外部URLの取り込み
	if imageURL != "" && r.FormValue("mirror_image") == "on" {
		key, err := h.images.Mirror(r.Context(), imageURL)
		if err != nil {
			return "", h.imageError(err)
		}
		return recipe.ImagePathPrefix + key, nil
	}

	return imageURL, nil
}

func (h *ProductHandler) formError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return model.NewImageTooLargeError(h.maxImageSize(maxErr.Limit))
	}
	return model.NewInvalidProductError("フォームを解析できません")
}

func (h *ProductHandler) imageError(err error) error {
	switch {
	case errors.Is(err, image.ErrTooLarge):
		return model.NewImageTooLargeError(h.maxImageSize(0))
	case errors.Is(err, security.ErrUnsafeURL),
		errors.Is(err, image.ErrUnsupportedType),
		errors.Is(err, image.ErrFetchFailed):
		return model.NewInvalidImageURLError(err.Error())
	default:
		return err
	}
}

func (h *ProductHandler) maxImageSize(fallback int64) int64 {
	if h.images != nil {
		return h.images.MaxSize()
	}
	return fallback
}

// fail はエラーを記録してダッシュボードへ戻す。フォームの入力内容は保持しない。
func (h *ProductHandler) fail(w http.ResponseWriter, r *http.Request, op, id string, err error) {
	code := errCodeSaveFailed
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.Code
	}

	slog.WarnContext(r.Context(), "product mutation failed",
		slog.String("op", op),
		slog.String("product_id", id),
		slog.String("code", code),
		slog.String("error", err.Error()),
	)

	redirectDashboard(w, r, "error", code)
}

func redirectDashboard(w http.ResponseWriter, r *http.Request, key, value string) {
	http.Redirect(w, r, "/dashboard?"+url.Values{key: {value}}.Encode(), http.StatusSeeOther)
}
