package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/tutu-network/peerlink/internal/domain"
)

// StateHub fans coordinator notifications out to SSE subscribers. Each
// subscriber holds at most one pending signal; bursts collapse into a
// single fresh snapshot.
type StateHub struct {
	snapshot func() domain.Snapshot

	mu   sync.Mutex
	subs map[string]chan struct{}
}

// NewStateHub creates a hub that reads views through snapshot.
func NewStateHub(snapshot func() domain.Snapshot) *StateHub {
	return &StateHub{
		snapshot: snapshot,
		subs:     make(map[string]chan struct{}),
	}
}

// Notify signals every subscriber. It never blocks.
func (h *StateHub) Notify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of open feeds.
func (h *StateHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *StateHub) subscribe() (string, chan struct{}) {
	id := uuid.NewString()
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *StateHub) unsubscribe(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// HandleSSE streams a "state" event with the current snapshot on
// connect and after every notification.
func (h *StateHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	id, ch := h.subscribe()
	defer h.unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if err := h.write(w); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ch:
			if err := h.write(w); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *StateHub) write(w http.ResponseWriter) error {
	msg, err := json.Marshal(h.snapshot())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: state\ndata: %s\n\n", msg)
	return err
}
