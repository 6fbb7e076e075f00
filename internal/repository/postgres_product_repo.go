package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/recipeman/internal/model"
)

// PostgresProductRepo はPostgreSQLを使用したレシピリポジトリ。
type PostgresProductRepo struct {
	db *sql.DB
}

// NewPostgresProductRepo はPostgresProductRepoを生成する。
func NewPostgresProductRepo(db *sql.DB) *PostgresProductRepo {
	return &PostgresProductRepo{db: db}
}

// FindAll は全レシピを作成順に返す。0件の場合は空スライスを返す。
func (r *PostgresProductRepo) FindAll(ctx context.Context) ([]model.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, description, image FROM products ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []model.Product{}
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Image); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// Create はレシピを作成し、DBが採番したIDを含むProductを返す。
// 指定されなかったフィールドは空文字として保存する。
func (r *PostgresProductRepo) Create(ctx context.Context, fields model.ProductFields) (model.Product, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO products (title, description, image)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		deref(fields.Title), deref(fields.Description), deref(fields.Image),
	).Scan(&id)
	if err != nil {
		return model.Product{}, fmt.Errorf("failed to insert product: %w", err)
	}
	return fields.ToProduct(id), nil
}

// Update は指定IDのレシピに、指定されたフィールドのみを反映する。
func (r *PostgresProductRepo) Update(ctx context.Context, id string, fields model.ProductFields) error {
	// 1. 指定されたフィールドからSET句を組み立てる
	sets := []string{}
	args := []any{}
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("title", fields.Title)
	add("description", fields.Description)
	add("image", fields.Image)
	sets = append(sets, "updated_at = now()")

	// 2. 実行し、対象行の有無を確認する
	args = append(args, id)
	query := fmt.Sprintf("UPDATE products SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return checkAffected(result)
}

// Delete は指定IDのレシピを削除する。
func (r *PostgresProductRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return checkAffected(result)
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// compile-time interface check
var _ ProductRepository = (*PostgresProductRepo)(nil)
