package preview

import (
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signclip/internal/domain"
)

const (
	clientBuffer = 32
	writeTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // loopback only
	},
}

// Message is one controller event as sent to websocket clients.
type Message struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

// EventHub broadcasts controller events to websocket clients. It implements
// ports.EventSink.
type EventHub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewEventHub(log zerolog.Logger) *EventHub {
	return &EventHub{
		log:     log.With().Str("component", "event_hub").Logger(),
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &hubClient{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)

	// Reads only detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(client)
}

func (h *EventHub) writeLoop(client *hubClient) {
	defer client.conn.Close()
	for msg := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(client)
			return
		}
	}
	_ = client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *EventHub) remove(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.once.Do(func() { close(client.send) })
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		delete(h.clients, client)
		client.once.Do(func() { close(client.send) })
	}
}

func (h *EventHub) broadcast(eventType string, data any) {
	payload, err := json.Marshal(Message{Type: eventType, Data: data, At: time.Now().UTC()})
	if err != nil {
		h.log.Error().Err(err).Str("type", eventType).Msg("event encode failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			// Slow client; drop it rather than block the controller.
			delete(h.clients, client)
			client.once.Do(func() { close(client.send) })
		}
	}
}

func (h *EventHub) DeviceStateChanged(status domain.DeviceStatus) {
	h.broadcast(domain.EventDeviceState, status)
}

func (h *EventHub) CaptureStateChanged(state domain.CaptureState, reason domain.CaptureReason) {
	h.broadcast(domain.EventCaptureState, domain.CaptureEvent{State: state, Reason: reason})
}

func (h *EventHub) CaptureProgress(progress domain.Progress) {
	h.broadcast(domain.EventProgress, progress.Event())
}

func (h *EventHub) PredictionChanged(outcome domain.Outcome) {
	h.broadcast(domain.EventPrediction, outcome)
}

func (h *EventHub) SessionError(code domain.ErrorCode, detail string) {
	h.broadcast(domain.EventError, domain.ErrorEvent{Code: code, Detail: detail})
}
