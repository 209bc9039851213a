package realtime

import (
	"sync"

	"github.com/ressKim-io/leafscan/internal/domain/entity"
	"github.com/ressKim-io/leafscan/internal/domain/service"
)

// Hub delivers session snapshots to subscribers of that session.
// Each subscriber only ever sees the latest snapshot; older undelivered
// ones are dropped.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan *entity.Session]struct{}
}

// NewHub creates an empty Hub
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan *entity.Session]struct{})}
}

var _ service.Notifier = (*Hub)(nil)

// Publish sends session to every subscriber of session.ID
func (h *Hub) Publish(session *entity.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[session.ID] {
		snapshot := session.Clone()
		select {
		case ch <- snapshot:
		default:
			// drop the stale snapshot and replace it
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}

// Subscribe registers for updates of sessionID. The returned cancel
// function unregisters and closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan *entity.Session, func()) {
	ch := make(chan *entity.Session, 1)

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan *entity.Session]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[sessionID], ch)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			close(ch)
		})
	}
	return ch, cancel
}
