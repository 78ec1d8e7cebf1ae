package websockets

import (
	"time"

	"importdeck/internal/events"
	"importdeck/pkg/logger"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	MESSAGE_TYPE_JOB_UPDATE        = "job_update"
	MESSAGE_TYPE_JOB_COMPLETE      = "job_complete"
	MESSAGE_TYPE_TRACKING_DEGRADED = "tracking_degraded"
	MESSAGE_TYPE_STATS_STALE       = "stats_stale"
	PING_INTERVAL                  = 30 * time.Second
	PONG_TIMEOUT                   = 60 * time.Second
	WRITE_TIMEOUT                  = 10 * time.Second
	MAX_MESSAGE_SIZE               = 64 * 1024
	SEND_CHANNEL_SIZE              = 64
)

type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type Client struct {
	ID         string
	Connection *websocket.Conn
	Manager    *Manager
	send       chan Message
}

// Manager relays store-change events to connected dashboard clients. Clients
// are pure listeners: the browser reacts to a signal by refetching the view
// endpoints, so the messages stay light.
type Manager struct {
	hub      *Hub
	log      logger.Logger
	eventBus *events.EventBus
}

func New(eventBus *events.EventBus) (*Manager, error) {
	log := logger.New("websockets")

	manager := &Manager{
		hub: &Hub{
			broadcast:  make(chan Message),
			register:   make(chan *Client),
			unregister: make(chan *Client),
			clients:    make(map[string]*Client),
		},
		log:      log,
		eventBus: eventBus,
	}

	log.Function("New").Info("Starting websocket hub")
	go manager.hub.run(manager)

	manager.subscribeToJobEvents()

	return manager, nil
}

func (m *Manager) HandleWebSocket(c *websocket.Conn) {
	log := m.log.Function("HandleWebSocket")
	clientID := uuid.New().String()

	client := &Client{
		ID:         clientID,
		Connection: c,
		Manager:    m,
		send:       make(chan Message, SEND_CHANNEL_SIZE),
	}

	log.Info("Client connected", "clientID", clientID)
	m.hub.register <- client
	defer func() {
		log.Info("Client disconnected", "clientID", clientID)
		m.hub.unregister <- client
		if err := c.Close(); err != nil {
			log.Er("failed to close connection", err)
		}
	}()

	go client.readPump()
	client.writePump()
}

func (m *Manager) BroadcastMessage(message Message) {
	log := m.log.Function("BroadcastMessage")

	select {
	case m.hub.broadcast <- message:
		log.Debug("Message sent to broadcast channel", "messageID", message.ID)
	default:
		log.Warn("Broadcast channel is full, dropping message", "messageID", message.ID)
	}
}

// readPump exists to service pong frames and detect closure; dashboard clients
// never send application messages.
func (c *Client) readPump() {
	log := c.Manager.log.Function("readPump")
	defer func() {
		c.Manager.hub.unregister <- c
		_ = c.Connection.Close()
	}()

	c.Connection.SetReadLimit(MAX_MESSAGE_SIZE)
	if err := c.Connection.SetReadDeadline(time.Now().Add(PONG_TIMEOUT)); err != nil {
		log.Er("failed to set read deadline", err, "clientID", c.ID)
	}
	c.Connection.SetPongHandler(func(string) error {
		if err := c.Connection.SetReadDeadline(time.Now().Add(PONG_TIMEOUT)); err != nil {
			log.Er("failed to set read deadline in pong handler", err, "clientID", c.ID)
		}
		return nil
	})

	for {
		if _, _, err := c.Connection.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				log.Er("Unexpected close error", err, "clientID", c.ID)
			}
			break
		}
	}
}

func (c *Client) writePump() {
	log := c.Manager.log.Function("writePump")

	ticker := time.NewTicker(PING_INTERVAL)
	defer func() {
		ticker.Stop()
		_ = c.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.Connection.SetWriteDeadline(time.Now().Add(WRITE_TIMEOUT)); err != nil {
				log.Er("failed to set write deadline", err, "clientID", c.ID)
			}
			if !ok {
				log.Info("Channel closed", "clientID", c.ID)
				_ = c.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Connection.WriteJSON(message); err != nil {
				log.Er("WebSocket write error", err, "clientID", c.ID, "message", message)
				return
			}

		case <-ticker.C:
			log.Debug("Sending ping", "clientID", c.ID)
			if err := c.Connection.SetWriteDeadline(time.Now().Add(WRITE_TIMEOUT)); err != nil {
				log.Er("failed to set write deadline for ping", err, "clientID", c.ID)
			}
			if err := c.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Manager) subscribeToJobEvents() {
	log := m.log.Function("subscribeToJobEvents")
	log.Info("Starting job events subscription")

	subscriptions := map[events.Channel]string{
		events.JOBS_UPDATED:     MESSAGE_TYPE_JOB_UPDATE,
		events.JOBS_TRACKING:    MESSAGE_TYPE_TRACKING_DEGRADED,
		events.STATS_INVALIDATE: MESSAGE_TYPE_STATS_STALE,
	}

	for channel, defaultType := range subscriptions {
		err := m.eventBus.Subscribe(channel, func(event events.Event) error {
			// An event can carry a more specific type than the channel default
			// (job_complete rides the jobs.updated channel).
			messageType := defaultType
			if event.Type != "" {
				messageType = string(event.Type)
			}

			m.BroadcastMessage(Message{
				ID:        uuid.New().String(),
				Type:      messageType,
				Data:      event.Data,
				Timestamp: time.Now(),
			})
			return nil
		})
		if err != nil {
			log.Er("Failed to subscribe to channel", err, "channel", channel)
		}
	}
}
