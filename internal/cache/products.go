// Package cache はレシピコレクションのプロセス内キャッシュを提供する。
// 公開中のコレクションはローカルストアのスナップショットへライトスルーされる。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/recipeman/internal/localstore"
	"github.com/hitoshi/recipeman/internal/metrics"
	"github.com/hitoshi/recipeman/internal/model"
	"github.com/hitoshi/recipeman/internal/store"
)

// ErrCorruptSnapshot は保存済みスナップショットを復元できない場合に返す。
var ErrCorruptSnapshot = errors.New("corrupt products snapshot")

// State はキャッシュの読み込み状態。
type State int

const (
	// StateLoading はロード中、または未ロード。
	StateLoading State = iota
	// StateReady は公開中のコレクションが確定している。
	StateReady
)

// String はStateの文字列表現を返す。
func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "loading"
}

// Source は公開中のコレクションの取得元。
type Source int

const (
	// SourceNone はまだロードされていない。
	SourceNone Source = iota
	// SourceStorage はローカルスナップショットから復元した。
	SourceStorage
	// SourceRemote はリモートストアから取得した。
	SourceRemote
	// SourceRemoteFailed はリモート取得に失敗し、空のコレクションを公開している。
	SourceRemoteFailed
	// SourceOverwrite は変更操作後の再計算結果で上書きした。
	SourceOverwrite
)

// String はSourceの文字列表現を返す。メトリクスのラベルにも使う。
func (s Source) String() string {
	switch s {
	case SourceStorage:
		return "storage"
	case SourceRemote:
		return "remote"
	case SourceRemoteFailed:
		return "remote_failed"
	case SourceOverwrite:
		return "overwrite"
	default:
		return "none"
	}
}

// Snapshot は公開中のコレクションとその状態。
type Snapshot struct {
	Products []model.Product
	State    State
	Source   Source
}

// ProductsCache はレシピコレクションの読み取り用キャッシュ。
type ProductsCache struct {
	kv      localstore.Store
	gateway store.ProductGateway
	key     string
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	mu       sync.RWMutex
	products []model.Product
	state    State
	source   Source

	loadMu sync.Mutex
	loaded bool
}

// NewProductsCache はProductsCacheを生成する。keyはスナップショットの保存キー。
func NewProductsCache(kv localstore.Store, gateway store.ProductGateway, key string, mc metrics.MetricsCollector, logger *slog.Logger) *ProductsCache {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductsCache{
		kv:       kv,
		gateway:  gateway,
		key:      key,
		metrics:  mc,
		logger:   logger,
		products: []model.Product{},
		state:    StateLoading,
		source:   SourceNone,
	}
}

// Load はコレクションを読み込んで公開する。
// スナップショットがあればそれを使い、リモートストアは呼ばない。
// なければリモートから取得してスナップショットへ書き込む。
// リモート取得の失敗時は空のコレクションを公開し、スナップショットは書き込まない。
func (c *ProductsCache) Load(ctx context.Context) error {
	c.setState(StateLoading)

	// 1. ローカルスナップショット
	raw, err := c.kv.Get(ctx, c.key)
	switch {
	case err == nil:
		products, decErr := decodeSnapshot(raw)
		if decErr != nil {
			c.logger.ErrorContext(ctx, "failed to decode products snapshot",
				slog.String("key", c.key),
				slog.String("error", decErr.Error()),
			)
			return decErr
		}
		c.publish(products, SourceStorage)
		return nil
	case errors.Is(err, localstore.ErrCorruptFile):
		c.logger.ErrorContext(ctx, "products snapshot file is corrupt",
			slog.String("key", c.key),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	case !errors.Is(err, localstore.ErrKeyNotFound):
		return fmt.Errorf("failed to read products snapshot: %w", err)
	}

	// 2. リモートストア
	products, err := c.gateway.FetchAll(ctx)
	if err != nil {
		// ゲートウェイ側で記録済み。次回のロードで再取得する。
		c.logger.WarnContext(ctx, "publishing empty products after remote read failure",
			slog.String("error", err.Error()),
		)
		c.publish([]model.Product{}, SourceRemoteFailed)
		return nil
	}

	if products == nil {
		products = []model.Product{}
	}
	c.publish(products, SourceRemote)
	c.writeSnapshot(ctx, products)
	return nil
}

// EnsureLoaded は初回のみLoadを実行する。
// Loadがエラーを返した場合と、リモート取得に失敗して空のコレクションを公開した場合は
// 次回の呼び出しで再試行する。
func (c *ProductsCache) EnsureLoaded(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if c.loaded {
		return nil
	}
	if err := c.Load(ctx); err != nil {
		return err
	}
	c.loaded = c.Source() != SourceRemoteFailed
	return nil
}

// Overwrite は公開中のコレクションとスナップショットを無条件に置き換える。
// スナップショットの書き込みに失敗してもメモリ上の公開は行う。
func (c *ProductsCache) Overwrite(ctx context.Context, products []model.Product) error {
	if products == nil {
		products = []model.Product{}
	}
	c.publish(products, SourceOverwrite)

	// 上書き後はロード済みとして扱う
	c.loadMu.Lock()
	c.loaded = true
	c.loadMu.Unlock()

	return c.writeSnapshot(ctx, products)
}

// Products は公開中のコレクションのコピーを返す。
func (c *ProductsCache) Products() []model.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clone(c.products)
}

// State は現在の読み込み状態を返す。
func (c *ProductsCache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Source は公開中のコレクションの取得元を返す。
func (c *ProductsCache) Source() Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// Snapshot は公開中のコレクション、状態、取得元をまとめて返す。
func (c *ProductsCache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Products: clone(c.products),
		State:    c.state,
		Source:   c.source,
	}
}

func (c *ProductsCache) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *ProductsCache) publish(products []model.Product, source Source) {
	c.mu.Lock()
	c.products = clone(products)
	c.state = StateReady
	c.source = source
	c.mu.Unlock()
	c.metrics.RecordCacheLoad(source.String())
}

// writeSnapshot はスナップショットを書き込む。失敗はログとメトリクスに記録して返す。
func (c *ProductsCache) writeSnapshot(ctx context.Context, products []model.Product) error {
	data, err := json.Marshal(products)
	if err == nil {
		err = c.kv.Set(ctx, c.key, string(data))
	}
	if err != nil {
		c.metrics.RecordCacheWriteFailure()
		c.logger.ErrorContext(ctx, "failed to write products snapshot",
			slog.String("key", c.key),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to write products snapshot: %w", err)
	}
	return nil
}

func decodeSnapshot(raw string) ([]model.Product, error) {
	var products []model.Product
	if err := json.Unmarshal([]byte(raw), &products); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if products == nil {
		products = []model.Product{}
	}
	return products, nil
}

func clone(products []model.Product) []model.Product {
	out := make([]model.Product, len(products))
	copy(out, products)
	return out
}
