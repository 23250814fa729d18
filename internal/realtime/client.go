package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/samarth3282/trello-api/internal/util"
)

const (
	// WriteTimeout bounds a single frame write.
	WriteTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 4096
	sendBuffer   = 64
)

// Client frame types.
const (
	FrameJoinProject  = "join:project"
	FrameLeaveProject = "leave:project"
	FrameTypingStart  = "typing:start"
	FrameTypingStop   = "typing:stop"
)

// Server event names for presence.
const (
	EventTyping        = "user:typing"
	EventStoppedTyping = "user:stopped-typing"
	EventJoined        = "room:joined"
	EventError         = "error"
)

type ClientFrame struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	TaskID    string `json:"taskId,omitempty"`
}

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID string
	Name   string
}

// Authorizer decides whether a user may join a project room.
type Authorizer func(ctx context.Context, userID, projectID string) error

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type Client struct {
	id        string
	user      Identity
	hub       *Hub
	conn      *websocket.Conn
	send      chan Event
	authorize Authorizer
	log       logr.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, user Identity, authorize Authorizer, log logr.Logger) *Client {
	id := util.NewID("conn")
	return &Client{
		id:        id,
		user:      user,
		hub:       hub,
		conn:      conn,
		send:      make(chan Event, sendBuffer),
		authorize: authorize,
		log:       log.WithValues("conn", id, "user", user.UserID),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues ev without blocking. A full buffer drops the event.
func (c *Client) Send(ev Event) bool {
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Run serves the connection until the peer disconnects or ctx ends.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.hub.Join(UserRoom(c.user.UserID), c)
	if c.hub.connected != nil {
		c.hub.connected.Inc()
	}
	defer func() {
		c.hub.LeaveAll(c.id)
		if c.hub.connected != nil {
			c.hub.connected.Dec()
		}
		_ = c.conn.Close()
	}()

	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.V(1).Info("websocket closed", "err", err.Error())
			}
			return
		}
		var frame ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.Send(Event{Name: EventError, Payload: map[string]string{"error": "invalid frame"}})
			continue
		}
		c.handle(ctx, frame)
	}
}

func (c *Client) handle(ctx context.Context, frame ClientFrame) {
	room := ProjectRoom(frame.ProjectID)
	switch frame.Type {
	case FrameJoinProject:
		if frame.ProjectID == "" {
			c.Send(Event{Name: EventError, Payload: map[string]string{"error": "projectId is required"}})
			return
		}
		if c.authorize != nil {
			if err := c.authorize(ctx, c.user.UserID, frame.ProjectID); err != nil {
				c.Send(Event{Name: EventError, ProjectID: frame.ProjectID, Payload: map[string]string{"error": "cannot join project"}})
				return
			}
		}
		c.hub.Join(room, c)
		c.Send(Event{Name: EventJoined, ProjectID: frame.ProjectID})
	case FrameLeaveProject:
		c.hub.Leave(room, c.id)
	case FrameTypingStart, FrameTypingStop:
		if !c.hub.InRoom(room, c.id) {
			return
		}
		name := EventTyping
		if frame.Type == FrameTypingStop {
			name = EventStoppedTyping
		}
		c.hub.PublishExcept(frame.ProjectID, name, map[string]string{
			"userId":   c.user.UserID,
			"userName": c.user.Name,
			"taskId":   frame.TaskID,
		}, c.id)
	default:
		c.Send(Event{Name: EventError, Payload: map[string]string{"error": "unknown frame type"}})
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(WriteTimeout))
			return
		case ev := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.V(1).Info("websocket write failed", "err", err.Error())
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
