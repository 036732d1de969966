package rx

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/multisense/internal/httputil"
	"github.com/banshee-data/multisense/internal/reassembly"
	"github.com/banshee-data/multisense/internal/wire"
)

// Subscribe returns a channel of one-line summaries of completed messages.
// Slow subscribers miss lines rather than stall the receive loop.
func (e *Engine) Subscribe() (uuid.UUID, chan string) {
	id := uuid.New()
	ch := make(chan string, 64)

	e.tailMu.Lock()
	defer e.tailMu.Unlock()
	e.tail[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (e *Engine) Unsubscribe(id uuid.UUID) {
	e.tailMu.Lock()
	defer e.tailMu.Unlock()
	if ch, ok := e.tail[id]; ok {
		close(ch)
		delete(e.tail, id)
	}
}

func (e *Engine) publishTail(seq int64, t *reassembly.Tracker) {
	e.tailMu.Lock()
	defer e.tailMu.Unlock()
	if len(e.tail) == 0 {
		return
	}
	line := fmt.Sprintf("seq=%d id=%s bytes=%d datagrams=%d", seq, t.ID(), t.Length(), t.Packets())
	for _, ch := range e.tail {
		select {
		case ch <- line:
		default:
		}
	}
}

// TrackerInfo describes one message still being reassembled.
type TrackerInfo struct {
	Sequence  int64         `json:"sequence"`
	ID        string        `json:"id"`
	Length    uint32        `json:"length"`
	Received  uint64        `json:"received"`
	Datagrams int           `json:"datagrams"`
	Age       time.Duration `json:"age_ns"`
}

// Trackers lists in-flight messages, oldest first.
func (e *Engine) Trackers() []TrackerInfo {
	now := e.clock.Now()
	var out []TrackerInfo
	e.trackers.Each(func(seq int64, t *reassembly.Tracker) {
		out = append(out, TrackerInfo{
			Sequence:  seq,
			ID:        t.ID().String(),
			Length:    t.Length(),
			Received:  t.Received(),
			Datagrams: t.Packets(),
			Age:       now.Sub(t.Started()),
		})
	})
	return out
}

// AttachAdminRoutes mounts the engine's diagnostics under /debug/.
func (e *Engine) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("rx", "receive engine counters, pool and dispatch stats", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, e.Stats())
	})

	debug.HandleFunc("rx-trackers", "messages still being reassembled", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, e.Trackers())
	})

	debug.HandleFunc("rx-listeners", "registered listeners and stored replies", func(w http.ResponseWriter, r *http.Request) {
		stored := e.dispatcher.StoredIDs()
		slices.Sort(stored)
		names := make([]string, len(stored))
		for i, id := range stored {
			names[i] = id.String()
		}
		httputil.WriteJSON(w, map[string]any{
			"listeners":         e.Registry().Counts(),
			"stored":            names,
			"meta_frames":       e.dispatcher.MetaFrames(),
			"network_time_sync": e.dispatcher.NetworkTimeSync(),
		})
	})

	debug.HandleSilentFunc("rx-stored", func(w http.ResponseWriter, r *http.Request) {
		var id uint16
		if _, err := fmt.Sscanf(r.URL.Query().Get("id"), "0x%x", &id); err != nil {
			httputil.Error(w, http.StatusBadRequest, "missing or invalid id, want hex like 0x0106")
			return
		}
		m, ok := e.dispatcher.Stored(wire.ID(id))
		if !ok {
			httputil.Error(w, http.StatusNotFound, "no stored reply")
			return
		}
		httputil.WriteJSON(w, m)
	})

	// Server-sent events with one line per completed message.
	debug.HandleSilentFunc("rx-tail", func(w http.ResponseWriter, r *http.Request) {
		if httputil.MethodNotAllowed(w, r, http.MethodGet) {
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := e.Subscribe()
		defer e.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
