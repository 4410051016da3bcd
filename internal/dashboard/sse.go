package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/racecontrol/racecontrol/control/bus"
)

const clientBuffer = 64

type message struct {
	event string
	data  []byte
}

// Hub fans engine events out to connected stream clients. Publish never
// blocks: a client whose buffer is full misses the event.
type Hub struct {
	mu      sync.Mutex
	clients map[chan message]struct{}
	dropped int64
}

// NewHub creates a Hub with no clients.
func NewHub() *Hub {
	return &Hub{clients: make(map[chan message]struct{})}
}

// Publish encodes ev once and offers it to every client.
func (h *Hub) Publish(ev bus.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logrus.Warnf("dashboard: encode %s event: %v", ev.Kind(), err)
		return
	}
	msg := message{event: string(ev.Kind()), data: data}
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.dropped++
		}
	}
}

// Clients returns the number of connected stream clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many deliveries were skipped for slow clients.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) subscribe() (<-chan message, func()) {
	ch := make(chan message, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}
}

// handleSSE streams hub events until the client goes away.
func handleSSE(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		events, unsubscribe := hub.subscribe()
		defer unsubscribe()

		writeSSE(c.Writer, "connected", []byte(`{"type":"connected"}`))
		c.Writer.Flush()

		ctx := c.Request.Context()
		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", []byte(fmt.Sprintf(`{"timestamp":%q}`, time.Now().UTC().Format(time.RFC3339))))
				c.Writer.Flush()
			case msg := <-events:
				writeSSE(c.Writer, msg.event, msg.data)
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
