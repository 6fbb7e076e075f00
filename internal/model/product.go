package model

// Product はレシピ1件を表す。
// IDはストアが作成時に採番する。Imageは任意のURL。
// JSON表現はローカルスナップショットの保存形式を兼ねる。
type Product struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image,omitempty"`
}

// ProductFields はレシピの部分更新に使うフィールド集合。
// nilのフィールドは更新しない。
type ProductFields struct {
	Title       *string
	Description *string
	Image       *string
}

// NewProductFields はフォーム入力の3項目すべてを更新対象とするProductFieldsを生成する。
func NewProductFields(title, description, image string) ProductFields {
	return ProductFields{
		Title:       &title,
		Description: &description,
		Image:       &image,
	}
}

// IsEmpty は更新対象のフィールドが1つもないかを返す。
func (f ProductFields) IsEmpty() bool {
	return f.Title == nil && f.Description == nil && f.Image == nil
}

// ApplyTo はpに部分更新を適用した新しいProductを返す。pは変更しない。
func (f ProductFields) ApplyTo(p Product) Product {
	if f.Title != nil {
		p.Title = *f.Title
	}
	if f.Description != nil {
		p.Description = *f.Description
	}
	if f.Image != nil {
		p.Image = *f.Image
	}
	return p
}

// ToProduct はIDを指定してProductを構築する。未指定のフィールドは空文字列になる。
func (f ProductFields) ToProduct(id string) Product {
	return f.ApplyTo(Product{ID: id})
}
