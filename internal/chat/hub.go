package chat

import (
	"errors"
	"sort"
	"sync"

	"github.com/pelusa-v/pelusa-chat/internal/metrics"
	"go.uber.org/zap"
)

// Hub tracks live connections and the groups they joined, and fans events
// out to group members. It is safe for concurrent use.
type Hub struct {
	mu   sync.RWMutex
	subs *subscriptions
	log  *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{subs: newSubscriptions(), log: log.Named("hub")}
}

// Join is idempotent. A connection sits in at most one room group, so
// joining a room group leaves the previous one.
func (h *Hub) Join(group string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if isRoomGroup(group) {
		for _, g := range h.subs.groupsOf(c) {
			if !isRoomGroup(g) || g == group {
				continue
			}
			if _, last := h.subs.remove(g, c); last {
				metrics.ConnectionsActive.Dec()
			}
		}
	}
	if _, first := h.subs.add(group, c); first {
		metrics.ConnectionsActive.Inc()
	}
}

// Leave is idempotent.
func (h *Hub) Leave(group string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, last := h.subs.remove(group, c); last {
		metrics.ConnectionsActive.Dec()
	}
}

// Retain drops every member of group for which keep is false and returns
// their connection ids.
func (h *Hub) Retain(group string, keep func(*Client) bool) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var dropped []string
	for _, c := range h.subs.members(group) {
		if keep(c) {
			continue
		}
		if _, last := h.subs.remove(group, c); last {
			metrics.ConnectionsActive.Dec()
		}
		dropped = append(dropped, c.Id)
	}
	sort.Strings(dropped)
	return dropped
}

// Cleanup removes c from every group and returns the groups it left.
func (h *Hub) Cleanup(c *Client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	groups := h.subs.removeAll(c)
	if len(groups) > 0 {
		metrics.ConnectionsActive.Dec()
	}
	return groups
}

// Broadcast enqueues ev to every member of group and returns how many
// inboxes accepted it. Members are snapshotted first; a full inbox loses
// this one event and nobody waits on it.
func (h *Hub) Broadcast(group string, ev Event) int {
	h.mu.RLock()
	snapshot := h.subs.members(group)
	h.mu.RUnlock()

	// 按连接顺序投递，便于测试与排查
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].seq < snapshot[j].seq })

	sent := 0
	for _, c := range snapshot {
		err := c.deliver(ev)
		switch {
		case err == nil:
			sent++
			metrics.BroadcastDeliveries.WithLabelValues(ev.kind()).Inc()
		case errors.Is(err, errInboxFull):
			metrics.BroadcastDropped.WithLabelValues(ev.kind()).Inc()
			h.log.Warn("inbox full, event dropped",
				zap.String("conn", c.Id),
				zap.String("user", c.Name),
				zap.String("group", group),
				zap.String("event", ev.kind()))
		}
	}
	return sent
}

// Members returns the connection ids currently in group.
func (h *Hub) Members(group string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subs.groupConns[group]))
	for id := range h.subs.groupConns[group] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Groups returns the groups c currently belongs to.
func (h *Hub) Groups(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := h.subs.groupsOf(c)
	sort.Strings(out)
	return out
}

// Connections returns the number of connections in at least one group.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs.connGroups)
}
