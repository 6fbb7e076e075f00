// Package session は認証状態の購読とセッション解決を提供する。
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/recipeman/internal/auth"
	"github.com/hitoshi/recipeman/internal/model"
)

// sweepInterval は期限切れセッションをメモリから掃除する間隔。
const sweepInterval = time.Minute

// Source は認証状態の購読元。auth.Serviceが満たす。
type Source interface {
	Subscribe(ctx context.Context) <-chan auth.SessionEvent
	LatestSeq() uint64
	FindSession(ctx context.Context, sessionID string) (*model.Session, error)
}

// Provider は認証サービスを購読し、このプロセスで発行されたセッションをメモリに保持する。
// 最初のイベントを受け取るまでReady()は閉じない。
// メモリ上の状態は、購読元の最新の通番まで欠落なく反映済みの場合にだけ使う。
type Provider struct {
	src           Source
	logger        *slog.Logger
	now           func() time.Time
	sweepInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]model.Session
	applied  uint64
	synced   bool

	ready     chan struct{}
	readyOnce sync.Once
	startOnce sync.Once
	done      chan struct{}
}

// NewProvider はProviderを生成する。購読はStartで開始する。
func NewProvider(src Source, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		src:           src,
		logger:        logger,
		now:           time.Now,
		sweepInterval: sweepInterval,
		sessions:      make(map[string]model.Session),
		ready:         make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start は購読を開始する。2回目以降の呼び出しは何もしない。
// ctxのキャンセルで購読を終了する。
func (p *Provider) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		events := p.src.Subscribe(ctx)
		go p.run(events)
	})
}

// Ready は最初のイベントを受け取ると閉じるチャネルを返す。
func (p *Provider) Ready() <-chan struct{} {
	return p.ready
}

// Done は購読が終了すると閉じるチャネルを返す。
func (p *Provider) Done() <-chan struct{} {
	return p.done
}

// Resolve はセッションIDに対応する有効なセッションを返す。存在しない場合は(nil, nil)。
// メモリ上にない場合と、メモリ上の状態が最新のイベントに追いついていない場合は認証サービスに問い合わせる。
func (p *Provider) Resolve(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}

	s, ok := p.lookup(sessionID)
	if ok {
		if s.Expired(p.now()) {
			p.mu.Lock()
			delete(p.sessions, sessionID)
			p.mu.Unlock()
			return nil, nil
		}
		return &s, nil
	}

	return p.src.FindSession(ctx, sessionID)
}

// Len は保持中のセッション数を返す。
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

func (p *Provider) lookup(sessionID string) (model.Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.synced || p.applied != p.src.LatestSeq() {
		return model.Session{}, false
	}
	s, ok := p.sessions[sessionID]
	return s, ok
}

func (p *Provider) run(events <-chan auth.SessionEvent) {
	defer close(p.done)
	// 購読が即座に閉じられた場合もReadyを閉じる
	defer p.markReady()
	// 購読が終わった後はメモリ上の状態を使わない
	defer p.desync("subscription closed")

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.apply(ev)
			p.markReady()
		case <-ticker.C:
			p.sweepExpired()
		}
	}
}

func (p *Provider) apply(ev auth.SessionEvent) {
	p.mu.Lock()
	switch {
	case ev.Kind == auth.EventSnapshot:
		p.applied = ev.Seq
		p.synced = true
		p.mu.Unlock()
		return
	case !p.synced:
		p.mu.Unlock()
		return
	case ev.Seq != p.applied+1:
		p.mu.Unlock()
		p.desync("session event sequence gap")
		return
	}

	p.applied = ev.Seq
	if ev.Session != nil {
		switch ev.Kind {
		case auth.EventSignedIn:
			p.sessions[ev.Session.ID] = *ev.Session
		case auth.EventSignedOut:
			delete(p.sessions, ev.Session.ID)
		}
	}
	p.mu.Unlock()

	p.logger.Debug("session event applied", slog.String("kind", ev.Kind.String()))
}

// desync はメモリ上の状態を破棄し、以後の解決を認証サービスに委ねる。
func (p *Provider) desync(reason string) {
	p.mu.Lock()
	wasSynced := p.synced
	p.synced = false
	clear(p.sessions)
	p.mu.Unlock()

	if wasSynced {
		p.logger.Warn("session mirror disabled", slog.String("reason", reason))
	}
}

// sweepExpired は期限切れのセッションをメモリから削除する。
func (p *Provider) sweepExpired() {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, s := range p.sessions {
		if s.Expired(now) {
			delete(p.sessions, id)
		}
	}
}

func (p *Provider) markReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}
