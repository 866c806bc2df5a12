package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/sirupsen/logrus"

	"github.com/makeasinger/enrichment/internal/model"
	"github.com/makeasinger/enrichment/pkg/response"
)

// ErrCodeJobFailed is sent to subscribers when a job exhausts its retries
const ErrCodeJobFailed = response.CodeJobFailed

const (
	sendBuffer   = 256
	pingInterval = 30 * time.Second
)

// Client represents a WebSocket client
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// NewClient creates a client subscribed to one job
func NewClient(jobID string, conn *websocket.Conn) *Client {
	return &Client{
		JobID: jobID,
		Conn:  conn,
		Send:  make(chan []byte, sendBuffer),
	}
}

// Hub fans job status changes out to WebSocket subscribers
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	logger *logrus.Entry
	mu     sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, sendBuffer),
		logger:     logger.WithField("component", "ws_hub"),
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.logger.WithField("job_id", client.JobID).Debug("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.WithField("job_id", client.JobID).Debug("Client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.JobID] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.remove(client)
		}
	}
}

// Subscribers returns the number of clients watching a job
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JobUpdated broadcasts a status message for every transition, followed by
// the result on completion or an error once retries are exhausted. It never
// blocks the caller; messages are dropped when the hub is saturated.
func (h *Hub) JobUpdated(job *model.Job) {
	h.send(job.ID, model.WSStatusMessage{
		Type:       model.WSMessageTypeStatus,
		JobID:      job.ID,
		Status:     job.Status,
		RetryCount: job.RetryCount,
		Error:      job.Error,
	})

	switch {
	case job.Status == model.JobStatusCompleted:
		h.send(job.ID, model.WSCompleteMessage{
			Type:   model.WSMessageTypeComplete,
			JobID:  job.ID,
			Result: job.OutputData,
		})
	case job.Status == model.JobStatusFailed && job.IsTerminal():
		msg := "enrichment failed"
		if job.Error != nil {
			msg = *job.Error
		}
		h.send(job.ID, model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: job.ID,
			Error: model.WSError{Code: ErrCodeJobFailed, Message: msg},
		})
	}
}

func (h *Hub) send(jobID string, v interface{}) {
	if h.Subscribers(jobID) == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal message")
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{JobID: jobID, Message: data}:
	default:
		h.logger.WithField("job_id", jobID).Warn("Broadcast queue full, dropping message")
	}
}

// HandleConnection serves one subscriber until it disconnects. The current
// job state is sent first so late subscribers do not miss a finished job.
func (h *Hub) HandleConnection(c *websocket.Conn, job *model.Job) {
	client := NewClient(job.ID, c)

	h.Register(client)
	defer h.Unregister(client)

	if data, err := json.Marshal(model.WSStatusMessage{
		Type:       model.WSMessageTypeStatus,
		JobID:      job.ID,
		Status:     job.Status,
		RetryCount: job.RetryCount,
		Error:      job.Error,
	}); err == nil {
		client.Send <- data
	}

	go h.writeLoop(client)

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.WithError(err).Warn("WebSocket read failed")
			}
			return
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case client.Send <- data:
			default:
			}
		}
	}
}

func (h *Hub) writeLoop(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.Send:
			if !ok {
				_ = client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
