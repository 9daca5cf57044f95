// Package sse provides Server-Sent Events support for real-time notifications.
package sse

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type EventType string

const (
	EventNotification EventType = "notification"
	EventUnreadCount  EventType = "unread_count"
)

const (
	clientBuffer      = 32
	heartbeatInterval = 25 * time.Second
)

// Event is one SSE payload.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
}

type client struct {
	userID   uuid.UUID
	tenantID uuid.UUID
	events   chan Event
}

// Service manages SSE connections per user.
type Service struct {
	mu      sync.RWMutex
	clients map[uuid.UUID][]*client
	log     *logger.Logger
	closed  bool
}

func New(log *logger.Logger) *Service {
	return &Service{
		clients: make(map[uuid.UUID][]*client),
		log:     log,
	}
}

func (s *Service) addClient(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.userID] = append(s.clients[c.userID], c)
	return true
}

func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := s.clients[c.userID]
	for i, cl := range clients {
		if cl == c {
			s.clients[c.userID] = append(clients[:i], clients[i+1:]...)
			close(c.events)
			break
		}
	}
	if len(s.clients[c.userID]) == 0 {
		delete(s.clients, c.userID)
	}
}

// Publish sends an event to every open stream of a user. Full buffers drop the event.
func (s *Service) Publish(userID uuid.UUID, event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clients[userID] {
		select {
		case c.events <- event:
		default:
			s.log.Warn("sse buffer full", "userId", userID, "type", event.Type)
		}
	}
}

// Connected reports the number of open streams for a user.
func (s *Service) Connected(userID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[userID])
}

// Handler streams the caller's notifications until the request ends.
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := httpkit.MustGetIdentity(c)
		if identity == nil {
			return
		}

		cl := &client{
			userID:   identity.UserID(),
			tenantID: identity.TenantID(),
			events:   make(chan Event, clientBuffer),
		}
		if !s.addClient(cl) {
			httpkit.Error(c, http.StatusServiceUnavailable, "notification stream closed", nil)
			return
		}
		defer s.removeClient(cl)

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		c.SSEvent("connected", gin.H{"userId": cl.userID, "tenantId": cl.tenantID})
		c.Writer.Flush()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				return
			case <-heartbeat.C:
				c.SSEvent("ping", "")
				c.Writer.Flush()
			case event, ok := <-cl.events:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					s.log.Error("sse marshal failed", "error", err)
					continue
				}
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close ends every open stream.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, clients := range s.clients {
		for _, c := range clients {
			close(c.events)
		}
	}
	s.clients = make(map[uuid.UUID][]*client)
	s.closed = true
}
