package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/recipeman/internal/model"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

//go:embed static/placeholder.svg
var placeholderSVG []byte

// PlaceholderImagePath は画像のないレシピに表示する画像のパス。
const PlaceholderImagePath = "/static/placeholder.svg"

// ページ名
const (
	pageHome      = "home"
	pageDashboard = "dashboard"
	pageLogin     = "login"
	pageRegister  = "register"
	pageError     = "error"
)

// ProductForm はダッシュボードのフォームの入力値。
type ProductForm struct {
	ID          string
	Title       string
	Description string
	Image       string
}

// PageData はすべてのページテンプレートに渡すデータ。
type PageData struct {
	Title     string
	SignedIn  bool
	CSRFToken string
	Notice    string
	Error     string

	// レシピ一覧
	Products         []model.Product
	PlaceholderImage string
	Editable         bool

	// ダッシュボード
	Editing       bool
	Form          ProductForm
	ImagesEnabled bool

	// ログイン・新規登録
	Email string

	// エラーページ
	Message string
}

// Renderer は埋め込みテンプレートからページを描画する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer は全ページのテンプレートを解析してRendererを生成する。
func NewRenderer() (*Renderer, error) {
	pages := map[string][]string{
		pageHome:      {"templates/layout.html", "templates/grid.html", "templates/home.html"},
		pageDashboard: {"templates/layout.html", "templates/grid.html", "templates/dashboard.html"},
		pageLogin:     {"templates/layout.html", "templates/login.html"},
		pageRegister:  {"templates/layout.html", "templates/register.html"},
		pageError:     {"templates/layout.html", "templates/error.html"},
	}

	r := &Renderer{pages: make(map[string]*template.Template, len(pages))}
	for name, files := range pages {
		tmpl, err := template.ParseFS(embeddedTemplates, files...)
		if err != nil {
			return nil, fmt.Errorf("parse %s templates: %w", name, err)
		}
		r.pages[name] = tmpl
	}
	return r, nil
}

// Render はページを描画して書き込む。
// 描画が途中で失敗した場合に部分的なHTMLを返さないよう、バッファに描画してから書き込む。
func (r *Renderer) Render(w http.ResponseWriter, status int, page string, data PageData) {
	tmpl, ok := r.pages[page]
	if !ok {
		slog.Error("unknown page template", slog.String("page", page))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if data.PlaceholderImage == "" {
		data.PlaceholderImage = PlaceholderImagePath
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// RenderError はエラーページを描画する。
func (r *Renderer) RenderError(w http.ResponseWriter, status int, base PageData, message string) {
	base.Title = "エラー"
	base.Message = message
	r.Render(w, status, pageError, base)
}

// Placeholder はプレースホルダー画像を返す。
// GET /static/placeholder.svg
func Placeholder(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(placeholderSVG)
}
