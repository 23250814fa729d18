// Package realtime fans events out to connected clients grouped in rooms.
// Delivery is at-most-once: a slow or disconnected client misses events and
// nothing is replayed.
package realtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Event is the frame delivered to clients.
type Event struct {
	Name      string `json:"event"`
	ProjectID string `json:"projectId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Subscriber receives events. Send must not block; it reports false when
// the event was dropped.
type Subscriber interface {
	ID() string
	Send(Event) bool
}

func ProjectRoom(projectID string) string { return "project:" + projectID }
func UserRoom(userID string) string       { return "user:" + userID }

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber

	connected prometheus.Gauge
	dropped   prometheus.Counter
}

func NewHub() *Hub {
	return &Hub{rooms: map[string]map[string]Subscriber{}}
}

// WithMetrics attaches the connected-client gauge and dropped-event counter.
func (h *Hub) WithMetrics(connected prometheus.Gauge, dropped prometheus.Counter) *Hub {
	h.connected = connected
	h.dropped = dropped
	return h
}

func (h *Hub) Join(room string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = map[string]Subscriber{}
		h.rooms[room] = members
	}
	members[sub.ID()] = sub
}

func (h *Hub) Leave(room, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, subID)
}

// LeaveAll removes a subscriber from every room; called on disconnect.
func (h *Hub) LeaveAll(subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.rooms {
		h.leaveLocked(room, subID)
	}
}

func (h *Hub) leaveLocked(room, subID string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, subID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) InRoom(room, subID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][subID]
	return ok
}

// LeaveUser removes every connection of userID from room and reports how
// many were removed. Connections are found through the user's personal room.
func (h *Hub) LeaveUser(room, userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for subID := range h.rooms[UserRoom(userID)] {
		if _, ok := h.rooms[room][subID]; ok {
			h.leaveLocked(room, subID)
			removed++
		}
	}
	return removed
}

// Broadcast sends ev to everyone in room except excludeID (may be empty)
// and returns how many subscribers accepted it.
func (h *Hub) Broadcast(room string, ev Event, excludeID string) int {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.rooms[room]))
	for id, sub := range h.rooms[room] {
		if id == excludeID {
			continue
		}
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if sub.Send(ev) {
			delivered++
		} else if h.dropped != nil {
			h.dropped.Inc()
		}
	}
	return delivered
}

// Publish broadcasts a project event to its room.
func (h *Hub) Publish(projectID, name string, payload any) int {
	return h.Broadcast(ProjectRoom(projectID), Event{Name: name, ProjectID: projectID, Payload: payload}, "")
}

// PublishExcept is Publish without echoing back to the originating client.
func (h *Hub) PublishExcept(projectID, name string, payload any, exceptID string) int {
	return h.Broadcast(ProjectRoom(projectID), Event{Name: name, ProjectID: projectID, Payload: payload}, exceptID)
}

// Revoke drops userID's connections from the project room after they lose
// membership. They must join again, which re-checks membership.
func (h *Hub) Revoke(projectID, userID string) int {
	return h.LeaveUser(ProjectRoom(projectID), userID)
}

// Notify delivers a personal event to every connection of userID.
func (h *Hub) Notify(userID, name string, payload any) int {
	return h.Broadcast(UserRoom(userID), Event{Name: name, Payload: payload}, "")
}
