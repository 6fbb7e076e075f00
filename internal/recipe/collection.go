// Package recipe はレシピの追加・更新・削除フローを提供する。
// 1回のリモート呼び出しのあと、公開中のコレクションを再計算してキャッシュを上書きする。
package recipe

import "github.com/hitoshi/recipeman/internal/model"

// ApplyAdd はproductsの末尾にpを追加した新しいスライスを返す。
func ApplyAdd(products []model.Product, p model.Product) []model.Product {
	out := make([]model.Product, 0, len(products)+1)
	out = append(out, products...)
	return append(out, p)
}

// ApplyUpdate はIDがidの要素にfieldsを適用した新しいスライスを返す。
// 該当がない場合は内容の同じコピーを返す。
func ApplyUpdate(products []model.Product, id string, fields model.ProductFields) []model.Product {
	out := make([]model.Product, len(products))
	for i, p := range products {
		if p.ID == id {
			p = fields.ApplyTo(p)
		}
		out[i] = p
	}
	return out
}

// ApplyDelete はIDがidの要素を除いた新しいスライスを返す。
func ApplyDelete(products []model.Product, id string) []model.Product {
	out := make([]model.Product, 0, len(products))
	for _, p := range products {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
