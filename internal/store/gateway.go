// Package store はレシピコレクションを保持するリモートストアへの境界を提供する。
// 失敗はこの境界でログとメトリクスに記録したうえで、呼び出し元へ明示的に返す。
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/recipeman/internal/metrics"
	"github.com/hitoshi/recipeman/internal/model"
	"github.com/hitoshi/recipeman/internal/repository"
)

// 操作名。ログとメトリクスのラベルに使う。
const (
	OpFetchAll = "fetch_all"
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
)

// ErrNotFound は更新・削除対象のレシピが存在しない場合に返す。
var ErrNotFound = repository.ErrNotFound

// ProductGateway はリモートストアへの操作インターフェース。
type ProductGateway interface {
	FetchAll(ctx context.Context) ([]model.Product, error)
	Create(ctx context.Context, fields model.ProductFields) (model.Product, error)
	Update(ctx context.Context, id string, fields model.ProductFields) error
	Delete(ctx context.Context, id string) error
}

// Gateway はProductRepositoryをラップしたProductGateway実装。
type Gateway struct {
	repo    repository.ProductRepository
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewGateway はGatewayを生成する。mcがnilの場合はメトリクスを記録しない。
func NewGateway(repo repository.ProductRepository, mc metrics.MetricsCollector, logger *slog.Logger) *Gateway {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{repo: repo, metrics: mc, logger: logger}
}

// FetchAll はコレクション全体を読み出す。
func (g *Gateway) FetchAll(ctx context.Context) ([]model.Product, error) {
	var products []model.Product
	err := g.observe(ctx, OpFetchAll, "", func() error {
		var err error
		products, err = g.repo.FindAll(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

// Create はレシピを1件作成し、ストアが採番したIDを含むProductを返す。
func (g *Gateway) Create(ctx context.Context, fields model.ProductFields) (model.Product, error) {
	var created model.Product
	err := g.observe(ctx, OpCreate, "", func() error {
		var err error
		created, err = g.repo.Create(ctx, fields)
		return err
	})
	if err != nil {
		return model.Product{}, err
	}
	return created, nil
}

// Update は指定IDのレシピに部分更新を適用する。
func (g *Gateway) Update(ctx context.Context, id string, fields model.ProductFields) error {
	return g.observe(ctx, OpUpdate, id, func() error {
		return g.repo.Update(ctx, id, fields)
	})
}

// Delete は指定IDのレシピを削除する。
func (g *Gateway) Delete(ctx context.Context, id string) error {
	return g.observe(ctx, OpDelete, id, func() error {
		return g.repo.Delete(ctx, id)
	})
}

// observe はfnを実行し、結果をメトリクスとログに記録する。
func (g *Gateway) observe(ctx context.Context, op, id string, fn func() error) error {
	start := time.Now()
	err := fn()
	g.metrics.RecordStoreLatency(op, time.Since(start))

	if err != nil {
		g.metrics.RecordStoreFailure(op)
		g.logger.ErrorContext(ctx, "remote store operation failed",
			slog.String("op", op),
			slog.String("product_id", id),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("store %s: %w", op, err)
	}

	g.metrics.RecordStoreSuccess(op)
	return nil
}

// compile-time interface check
var _ ProductGateway = (*Gateway)(nil)
