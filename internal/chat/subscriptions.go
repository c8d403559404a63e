package chat

import (
	"strings"
)

// GlobalRoute addresses only the personal notification group.
const GlobalRoute = "global"

const (
	roomGroupPrefix     = "room:"
	personalGroupPrefix = "user:"
)

func RoomGroup(room string) string { return roomGroupPrefix + room }

func PersonalGroup(username string) string { return personalGroupPrefix + username }

func isRoomGroup(group string) bool { return strings.HasPrefix(group, roomGroupPrefix) }

// normalizeRoom trims the route value; the global route maps to "".
func normalizeRoom(room string) string {
	r := strings.TrimSpace(room)
	if r == GlobalRoute {
		return ""
	}
	return r
}

// subscriptions is the two-way membership index. The hub guards it.
type subscriptions struct {
	groupConns map[string]map[string]*Client // group -> set(conn)
	connGroups map[string]map[string]bool    // conn id -> set(group)
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		groupConns: map[string]map[string]*Client{},
		connGroups: map[string]map[string]bool{},
	}
}

// add reports whether c was added and whether this is its first group.
func (s *subscriptions) add(group string, c *Client) (added, first bool) {
	if _, ok := s.groupConns[group][c.Id]; ok {
		return false, false
	}
	if _, ok := s.groupConns[group]; !ok {
		s.groupConns[group] = map[string]*Client{}
	}
	s.groupConns[group][c.Id] = c

	if _, ok := s.connGroups[c.Id]; !ok {
		s.connGroups[c.Id] = map[string]bool{}
		first = true
	}
	s.connGroups[c.Id][group] = true
	return true, first
}

// remove reports whether c was removed and whether it has no groups left.
func (s *subscriptions) remove(group string, c *Client) (removed, last bool) {
	members, ok := s.groupConns[group]
	if !ok {
		return false, false
	}
	if _, ok := members[c.Id]; !ok {
		return false, false
	}
	delete(members, c.Id)
	if len(members) == 0 {
		delete(s.groupConns, group)
	}
	if gs, ok := s.connGroups[c.Id]; ok {
		delete(gs, group)
		if len(gs) == 0 {
			delete(s.connGroups, c.Id)
			last = true
		}
	}
	return true, last
}

func (s *subscriptions) removeAll(c *Client) []string {
	groups := s.groupsOf(c)
	for _, g := range groups {
		s.remove(g, c)
	}
	return groups
}

func (s *subscriptions) groupsOf(c *Client) []string {
	out := make([]string, 0, len(s.connGroups[c.Id]))
	for g := range s.connGroups[c.Id] {
		out = append(out, g)
	}
	return out
}

func (s *subscriptions) members(group string) []*Client {
	out := make([]*Client, 0, len(s.groupConns[group]))
	for _, c := range s.groupConns[group] {
		out = append(out, c)
	}
	return out
}
