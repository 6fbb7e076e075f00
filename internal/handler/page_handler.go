package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/recipeman/internal/middleware"
	"github.com/hitoshi/recipeman/internal/model"
)

// ProductsReader はページが表示するレシピコレクションを提供する。
// cache.ProductsCacheが満たす。
type ProductsReader interface {
	// EnsureLoaded は初回アクセス時にコレクションを読み込む。
	EnsureLoaded(ctx context.Context) error
	// Products は公開中のコレクションを返す。
	Products() []model.Product
}

// 変更操作の結果表示に使うメッセージ。クエリパラメータのコードから引く。
var (
	noticeMessages = map[string]string{
		"added":   "レシピを追加しました。",
		"updated": "レシピを更新しました。",
		"deleted": "レシピを削除しました。",
	}
	errorMessages = map[string]string{
		model.ErrCodeInvalidProduct:   "タイトルと説明を入力してください。",
		model.ErrCodeInvalidImageURL:  "画像URLが正しくありません。http:// または https:// で始まる公開URLを入力してください。",
		model.ErrCodeImageTooLarge:    "画像サイズが上限を超えています。",
		model.ErrCodeProductNotFound:  "指定されたレシピが見つかりません。",
		model.ErrCodeCacheUnavailable: "レシピ一覧を読み込めませんでした。",
		errCodeSaveFailed:             "保存に失敗しました。しばらくしてから再度お試しください。",
	}
)

// errCodeSaveFailed はストアへの書き込み失敗など、利用者が対処できないエラーのコード。
const errCodeSaveFailed = "SAVE_FAILED"

// PageHandler はHomeとDashboardのページを描画する。
type PageHandler struct {
	products      ProductsReader
	renderer      *Renderer
	imagesEnabled bool
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(products ProductsReader, renderer *Renderer, imagesEnabled bool) *PageHandler {
	return &PageHandler{
		products:      products,
		renderer:      renderer,
		imagesEnabled: imagesEnabled,
	}
}

// Home はレシピ一覧を表示する。ログインは不要。
// GET /
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	data := basePageData(r, "レシピ一覧")

	products, ok := h.loadProducts(w, r, data)
	if !ok {
		return
	}
	data.Products = products

	h.renderer.Render(w, http.StatusOK, pageHome, data)
}

// Dashboard はレシピの追加・編集フォームと一覧を表示する。
// GET /dashboard
// ?edit={id} が指定された場合、そのレシピでフォームを埋めて編集状態にする。
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	data := basePageData(r, "ダッシュボード")
	data.Editable = true
	data.ImagesEnabled = h.imagesEnabled

	products, ok := h.loadProducts(w, r, data)
	if !ok {
		return
	}
	data.Products = products

	if editID := r.URL.Query().Get("edit"); editID != "" {
		if p, found := findProduct(products, editID); found {
			data.Editing = true
			data.Form = ProductForm{
				ID:          p.ID,
				Title:       p.Title,
				Description: p.Description,
				Image:       p.Image,
			}
		} else if data.Error == "" {
			data.Error = errorMessages[model.ErrCodeProductNotFound]
		}
	}

	h.renderer.Render(w, http.StatusOK, pageDashboard, data)
}

// loadProducts はコレクションを読み込む。失敗時はエラーページを描画してfalseを返す。
func (h *PageHandler) loadProducts(w http.ResponseWriter, r *http.Request, data PageData) ([]model.Product, bool) {
	if err := h.products.EnsureLoaded(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "failed to load products",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		h.renderer.RenderError(w, http.StatusInternalServerError, data, errorMessages[model.ErrCodeCacheUnavailable])
		return nil, false
	}
	return h.products.Products(), true
}

// basePageData はレイアウトが必要とする共通データを組み立てる。
func basePageData(r *http.Request, title string) PageData {
	session, _ := middleware.SessionFromContext(r.Context())
	query := r.URL.Query()
	return PageData{
		Title:     title,
		SignedIn:  session != nil,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Notice:    noticeMessages[query.Get("notice")],
		Error:     errorMessages[query.Get("error")],
	}
}

func findProduct(products []model.Product, id string) (model.Product, bool) {
	for _, p := range products {
		if p.ID == id {
			return p, true
		}
	}
	return model.Product{}, false
}
