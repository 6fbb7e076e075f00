package auth

import (
	"context"
	"sync"

	"github.com/hitoshi/recipeman/internal/model"
)

// EventKind はセッションイベントの種類。
type EventKind int

const (
	// EventSnapshot は購読開始直後に1回だけ届く初期イベント。
	EventSnapshot EventKind = iota
	// EventSignedIn はセッションが発行されたことを表す。
	EventSignedIn
	// EventSignedOut はセッションが破棄されたことを表す。
	EventSignedOut
)

// String はEventKindの文字列表現を返す。
func (k EventKind) String() string {
	switch k {
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	default:
		return "snapshot"
	}
}

// SessionEvent は認証状態の変化を表す。
// EventSnapshotではSessionはnil。EventSignedOutではIDのみ設定される。
// Seqは通知ごとに1ずつ増える通番で、EventSnapshotでは購読開始時点の通番を持つ。
type SessionEvent struct {
	Kind    EventKind
	Session *model.Session
	Seq     uint64
}

// subscriberBuffer は購読者ごとのチャネルバッファ。
const subscriberBuffer = 64

// Notifier はセッションイベントをプロセス内の購読者へ配信する。
type Notifier struct {
	mu     sync.Mutex
	subs   map[chan SessionEvent]struct{}
	seq    uint64
	closed bool
}

// NewNotifier はNotifierを生成する。
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[chan SessionEvent]struct{})}
}

// Subscribe はイベントの購読を開始する。
// 返すチャネルには最初にEventSnapshotが届く。ctxがキャンセルされると購読を終了し、チャネルを閉じる。
func (n *Notifier) Subscribe(ctx context.Context) <-chan SessionEvent {
	ch := make(chan SessionEvent, subscriberBuffer)

	n.mu.Lock()
	ch <- SessionEvent{Kind: EventSnapshot, Seq: n.seq}
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch
	}
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.unsubscribe(ch)
	}()

	return ch
}

// Publish はイベントに通番を付けて全購読者へ配信する。
// バッファが一杯の購読者は購読を打ち切ってチャネルを閉じる。イベントを黙って落とすことはない。
func (n *Notifier) Publish(ev SessionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.seq++
	ev.Seq = n.seq
	for ch := range n.subs {
		select {
		case ch <- ev:
		default:
			delete(n.subs, ch)
			close(ch)
		}
	}
}

// LatestSeq は最後に配信したイベントの通番を返す。
func (n *Notifier) LatestSeq() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq
}

// Close は全購読を終了する。
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for ch := range n.subs {
		close(ch)
		delete(n.subs, ch)
	}
}

func (n *Notifier) unsubscribe(ch chan SessionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.subs[ch]; !ok {
		return
	}
	delete(n.subs, ch)
	close(ch)
}
