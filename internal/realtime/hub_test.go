package realtime

import (
	"sync"
	"testing"
)

type recorder struct {
	id     string
	mu     sync.Mutex
	events []Event
	full   bool
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Send(ev Event) bool {
	if r.full {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

func TestPublishReachesOnlyRoomMembers(t *testing.T) {
	hub := NewHub()
	a, b, outsider := &recorder{id: "a"}, &recorder{id: "b"}, &recorder{id: "c"}
	hub.Join(ProjectRoom("p1"), a)
	hub.Join(ProjectRoom("p1"), b)
	hub.Join(ProjectRoom("p2"), outsider)

	if n := hub.Publish("p1", "task:created", map[string]string{"id": "t1"}); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if len(outsider.names()) != 0 {
		t.Fatalf("client in another room received %v", outsider.names())
	}
	if got := a.events[0]; got.Name != "task:created" || got.ProjectID != "p1" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestPublishExceptSkipsOrigin(t *testing.T) {
	hub := NewHub()
	a, b := &recorder{id: "a"}, &recorder{id: "b"}
	hub.Join(ProjectRoom("p1"), a)
	hub.Join(ProjectRoom("p1"), b)

	hub.PublishExcept("p1", EventTyping, nil, "a")
	if len(a.names()) != 0 {
		t.Fatalf("origin must not receive its own typing event")
	}
	if len(b.names()) != 1 {
		t.Fatalf("expected peer to receive typing event")
	}
}

func TestLeaveAndDroppedDeliveries(t *testing.T) {
	hub := NewHub()
	a, slow := &recorder{id: "a"}, &recorder{id: "slow", full: true}
	hub.Join(ProjectRoom("p1"), a)
	hub.Join(ProjectRoom("p1"), slow)
	hub.Join(UserRoom("u1"), a)

	if n := hub.Publish("p1", "board:updated", nil); n != 1 {
		t.Fatalf("expected dropped delivery to be skipped, got %d", n)
	}

	hub.Leave(ProjectRoom("p1"), "a")
	if hub.InRoom(ProjectRoom("p1"), "a") {
		t.Fatalf("expected a to have left")
	}
	hub.LeaveAll("slow")
	if n := hub.Publish("p1", "board:updated", nil); n != 0 {
		t.Fatalf("expected empty room, delivered %d", n)
	}

	if n := hub.Notify("u1", "notification", nil); n != 1 {
		t.Fatalf("expected personal notification delivery, got %d", n)
	}
}

func TestRevokeDropsEveryConnectionOfUser(t *testing.T) {
	hub := NewHub()
	phone, laptop, peer := &recorder{id: "phone"}, &recorder{id: "laptop"}, &recorder{id: "peer"}
	for _, sub := range []*recorder{phone, laptop} {
		hub.Join(UserRoom("u1"), sub)
		hub.Join(ProjectRoom("p1"), sub)
		hub.Join(ProjectRoom("p2"), sub)
	}
	hub.Join(UserRoom("u2"), peer)
	hub.Join(ProjectRoom("p1"), peer)

	if n := hub.Revoke("p1", "u1"); n != 2 {
		t.Fatalf("expected 2 connections revoked, got %d", n)
	}
	if n := hub.Publish("p1", "task:updated", nil); n != 1 {
		t.Fatalf("expected only the peer to receive, got %d", n)
	}
	if len(phone.names()) != 0 || len(laptop.names()) != 0 {
		t.Fatalf("revoked connections still receive project events")
	}
	if !hub.InRoom(ProjectRoom("p2"), "phone") || !hub.InRoom(UserRoom("u1"), "laptop") {
		t.Fatalf("revoke must not touch other rooms")
	}
	if n := hub.Revoke("p1", "u1"); n != 0 {
		t.Fatalf("second revoke removed %d", n)
	}
}
