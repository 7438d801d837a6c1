package ws

import (
	"strings"
	"sync"

	"grievanceportal/internal/metrics"
	"grievanceportal/pkg/logging"
)

// Hub maps group names to the set of live connections subscribed to them.
// Membership is process-local runtime state, rebuilt from zero on restart;
// cross-process fan-out goes through the Broadcaster's backbone.
type Hub struct {
	mu      sync.RWMutex
	groups  map[string]map[*Client]struct{}
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewHub creates a new hub. metrics may be nil (tests).
func NewHub(logger logging.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		groups:  make(map[string]map[*Client]struct{}),
		logger:  logger,
		metrics: m,
	}
}

// Join registers the client as a member of the group. Joining twice is a
// no-op.
func (h *Hub) Join(group string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		members = make(map[*Client]struct{})
		h.groups[group] = members
	}
	if _, already := members[c]; already {
		return
	}
	members[c] = struct{}{}
	c.groups[group] = struct{}{}

	if h.metrics != nil {
		h.metrics.HubConnections.WithLabelValues(groupKind(group)).Inc()
	}
	h.logger.WithFields(logging.Fields{
		"group":   group,
		"user_id": c.UserID(),
		"members": len(members),
	}).Info("Client joined group")
}

// Leave removes the client from the group. Leaving a group the client is
// not a member of, or a group that no longer exists, is a no-op.
func (h *Hub) Leave(group string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(group, c)
}

// LeaveAll removes the client from every group it joined.
func (h *Hub) LeaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for group := range c.groups {
		h.leaveLocked(group, c)
	}
}

func (h *Hub) leaveLocked(group string, c *Client) {
	members, ok := h.groups[group]
	if !ok {
		return
	}
	if _, member := members[c]; !member {
		return
	}
	delete(members, c)
	delete(c.groups, group)
	if len(members) == 0 {
		delete(h.groups, group)
	}

	if h.metrics != nil {
		h.metrics.HubConnections.WithLabelValues(groupKind(group)).Dec()
	}
	h.logger.WithFields(logging.Fields{
		"group":   group,
		"user_id": c.UserID(),
		"members": len(members),
	}).Info("Client left group")
}

// MemberCount returns the current number of members in a group.
func (h *Hub) MemberCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// BroadcastLocal delivers a serialized frame to a snapshot of the group's
// current members. A group with no members is a no-op. A failed push to one
// member never prevents delivery to the rest.
func (h *Hub) BroadcastLocal(group string, frame []byte) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.groups[group]))
	for c := range h.groups[group] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if c.SendFrame(frame) {
			if h.metrics != nil {
				h.metrics.HubMessages.WithLabelValues("out").Inc()
			}
			continue
		}
		if h.metrics != nil {
			h.metrics.DeliveryFailures.WithLabelValues(groupKind(group)).Inc()
		}
		h.logger.WithFields(logging.Fields{
			"group":   group,
			"user_id": c.UserID(),
		}).Warn("Dropped delivery to unresponsive client")
	}
}

// GetStats returns hub statistics for the health endpoint.
func (h *Hub) GetStats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	groupStats := make(map[string]int, len(h.groups))
	clients := make(map[*Client]struct{})
	for group, members := range h.groups {
		groupStats[group] = len(members)
		for c := range members {
			clients[c] = struct{}{}
		}
	}

	return map[string]interface{}{
		"total_clients":     len(clients),
		"group_memberships": groupStats,
	}
}

func groupKind(group string) string {
	if idx := strings.IndexByte(group, ':'); idx > 0 {
		return group[:idx]
	}
	return group
}
