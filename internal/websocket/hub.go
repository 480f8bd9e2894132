package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marathon-scoring/internal/domain"
	"github.com/marathon-scoring/internal/service"
)

// Message types
const (
	MessageTypeScoringRun   = "scoring_run_completed"
	MessageTypeRecordStatus = "record_status_changed"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// Message represents a WebSocket message. Race-scoped messages carry the game
// and race IDs; connection-level messages leave them empty.
type Message struct {
	Type      string      `json:"type"`
	GameID    string      `json:"game_id,omitempty"`
	RaceID    string      `json:"race_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ScoringRunUpdate is the broadcast payload for a completed scoring run.
// It carries the run summary, not per-athlete rows; clients fetch standings
// over HTTP.
type ScoringRunUpdate struct {
	GameID       string `json:"game_id"`
	RaceID       string `json:"race_id"`
	RulesVersion string `json:"rules_version"`
	ScoredCount  int    `json:"scored_count"`
	SkippedCount int    `json:"skipped_count"`
}

// raceKey joins a game and race into the subscription key
func raceKey(gameID, raceID string) string {
	return fmt.Sprintf("%s:%s", gameID, raceID)
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients by race subscription key
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Inbound messages from clients
	broadcast chan *Message

	// Subscription requests
	subscribe chan *subscriptionRequest

	// Unsubscription requests
	unsubscribe chan *subscriptionRequest

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	race   string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				// Remove from all race subscriptions
				for race, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, race)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.race]; !ok {
				h.clients[req.race] = make(map[*Client]bool)
			}
			h.clients[req.race][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "race", req.race)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.race]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.race)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "race", req.race)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to all subscribed clients
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	// Race-scoped messages only go to subscribed clients
	if message.GameID != "" && message.RaceID != "" {
		if clients, ok := h.clients[raceKey(message.GameID, message.RaceID)]; ok {
			for client := range clients {
				select {
				case client.send <- data:
				default:
					// Client's buffer is full, skip
					h.logger.Warn("client buffer full, skipping", "client_id", client.id)
				}
			}
		}
	} else {
		// Broadcast to all clients
		for client := range h.allClients {
			select {
			case client.send <- data:
			default:
				h.logger.Warn("client buffer full, skipping", "client_id", client.id)
			}
		}
	}
}

// NotifyScoringRun announces a completed scoring run to race subscribers
func (h *Hub) NotifyScoringRun(report *service.ScoreReport) {
	message := &Message{
		Type:   MessageTypeScoringRun,
		GameID: report.GameID,
		RaceID: report.RaceID,
		Data: ScoringRunUpdate{
			GameID:       report.GameID,
			RaceID:       report.RaceID,
			RulesVersion: report.Version,
			ScoredCount:  report.ScoredCount,
			SkippedCount: len(report.Skipped),
		},
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// NotifyRecordStatusChange announces a record bonus transition to race
// subscribers
func (h *Hub) NotifyRecordStatusChange(gameID, raceID string, change domain.RecordStatusChange) {
	message := &Message{
		Type:      MessageTypeRecordStatus,
		GameID:    gameID,
		RaceID:    raceID,
		Data:      change,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a race subscription
func (h *Hub) Subscribe(client *Client, gameID, raceID string) {
	h.subscribe <- &subscriptionRequest{
		client: client,
		race:   raceKey(gameID, raceID),
	}
}

// Unsubscribe removes a client from a race subscription
func (h *Hub) Unsubscribe(client *Client, gameID, raceID string) {
	h.unsubscribe <- &subscriptionRequest{
		client: client,
		race:   raceKey(gameID, raceID),
	}
}

// GetSubscriberCount returns the number of subscribers for a race
func (h *Hub) GetSubscriberCount(gameID, raceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.clients[raceKey(gameID, raceID)]; ok {
		return len(clients)
	}
	return 0
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
