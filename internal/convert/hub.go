package convert

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType は進捗ストリームのメッセージ種別です。
type EventType string

const (
	EventConnected EventType = "connected"
	EventProgress  EventType = "conversion_progress"
	EventComplete  EventType = "conversion_complete"
	EventError     EventType = "error"
	EventPing      EventType = "ping"
	EventPong      EventType = "pong"
)

// CompleteInfo は conversion_complete イベントのペイロードです。
type CompleteInfo struct {
	Success    bool   `json:"success"`
	TotalPages int    `json:"totalPages,omitempty"`
	Cached     bool   `json:"cached,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StreamError は error イベントのペイロードです。
// Retryable は再投入する意味があるかのヒントです。
type StreamError struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

// Event は進捗ストリームで配送されるメッセージです。
type Event struct {
	Type       EventType     `json:"type"`
	DocumentID string        `json:"documentId,omitempty"`
	Progress   *int          `json:"progress,omitempty"`
	Status     Status        `json:"status,omitempty"`
	Result     *CompleteInfo `json:"result,omitempty"`
	Error      *StreamError  `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

const subscriptionBuffer = 16

// Subscription はドキュメント1件の進捗ストリームへの購読です。
// 切断または liveness タイムアウトで破棄されます。
type Subscription struct {
	ID         string
	DocumentID string

	ch chan Event

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

// Events は購読者が受信するチャネルを返します。
// Hub が購読を破棄するとチャネルはクローズされます。
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// 配送は at-most-once・ベストエフォート。詰まった購読者には届かない。
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Hub はドキュメント単位のpublish/subscribeチャネルです。
// 再送バッファは持たないため、途中から購読したクライアントは
// 現在状態をジョブ照会APIで別途取得する必要があります。
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}

	pingInterval time.Duration
	staleTimeout time.Duration
	logger       *log.Logger
	now          func() time.Time
}

// NewHub はHubを作成します。
func NewHub(pingInterval, staleTimeout time.Duration, logger *log.Logger) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if staleTimeout <= 0 {
		staleTimeout = 60 * time.Second
	}
	return &Hub{
		subs:         make(map[string]map[*Subscription]struct{}),
		pingInterval: pingInterval,
		staleTimeout: staleTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// Subscribe はドキュメントの進捗ストリームへ購読を登録し、
// connected イベントを配送します。
func (h *Hub) Subscribe(documentID string) *Subscription {
	sub := &Subscription{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		ch:         make(chan Event, subscriptionBuffer),
		lastSeen:   h.now(),
	}

	h.mu.Lock()
	set, ok := h.subs[documentID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[documentID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	sub.deliver(Event{Type: EventConnected, DocumentID: documentID, Timestamp: h.now().UTC()})
	return sub
}

// Unsubscribe は購読を解除し、チャネルをクローズします。
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if set, ok := h.subs[sub.DocumentID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.DocumentID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish はドキュメントの全購読者へイベントを配送します。
func (h *Hub) Publish(documentID string, ev Event) {
	ev.DocumentID = documentID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[documentID] {
		sub.deliver(ev)
	}
}

// Touch は購読者からの liveness 応答（pong）を記録します。
func (h *Hub) Touch(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.mu.Lock()
	sub.lastSeen = h.now()
	sub.mu.Unlock()
}

// SubscriberCount はドキュメントの購読者数を返します。
func (h *Hub) SubscriberCount(documentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[documentID])
}

// Run は liveness ループを実行します。一定間隔で全購読者に ping を配送し、
// タイムアウトを超えて応答のない購読を破棄します。ctx で停止します。
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped := h.sweep(h.now())
			if len(dropped) > 0 && h.logger != nil {
				h.logger.Printf("progress hub: dropped %d stale subscription(s)", len(dropped))
			}
			h.pingAll()
		}
	}
}

// sweep は staleTimeout を超えて応答がない購読を破棄して返します。
func (h *Hub) sweep(now time.Time) []*Subscription {
	cutoff := now.Add(-h.staleTimeout)

	h.mu.Lock()
	var stale []*Subscription
	for documentID, set := range h.subs {
		for sub := range set {
			sub.mu.Lock()
			expired := sub.lastSeen.Before(cutoff)
			sub.mu.Unlock()
			if expired {
				stale = append(stale, sub)
				delete(set, sub)
			}
		}
		if len(set) == 0 {
			delete(h.subs, documentID)
		}
	}
	h.mu.Unlock()

	for _, sub := range stale {
		sub.close()
	}
	return stale
}

func (h *Hub) pingAll() {
	now := h.now().UTC()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for documentID, set := range h.subs {
		for sub := range set {
			sub.deliver(Event{Type: EventPing, DocumentID: documentID, Timestamp: now})
		}
	}
}
