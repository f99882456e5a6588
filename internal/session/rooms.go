package session

import (
	"sort"

	"codesync/pkg/types"
)

// memberSet keeps insertion order alongside O(1) membership checks.
type memberSet struct {
	order []string
	index map[string]struct{}
}

func newMemberSet() *memberSet {
	return &memberSet{index: make(map[string]struct{})}
}

func (s *memberSet) add(id string) bool {
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

func (s *memberSet) remove(id string) bool {
	if _, ok := s.index[id]; !ok {
		return false
	}
	delete(s.index, id)
	for i, member := range s.order {
		if member == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *memberSet) contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *memberSet) list() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Rooms is the room membership index. A room exists only while its member
// set is non-empty; the last Leave deletes its entry. A reverse index
// (connection -> rooms) backs teardown. Not safe for concurrent use.
type Rooms struct {
	members     map[string]*memberSet // roomID -> members in join order
	memberships map[string]*memberSet // socketID -> rooms in join order
}

func NewRooms() *Rooms {
	return &Rooms{
		members:     make(map[string]*memberSet),
		memberships: make(map[string]*memberSet),
	}
}

// Join adds socketID to roomID. It reports whether the membership is new;
// joining a room twice leaves a single entry in its original position.
func (r *Rooms) Join(roomID, socketID string) bool {
	set, ok := r.members[roomID]
	if !ok {
		set = newMemberSet()
		r.members[roomID] = set
	}
	if !set.add(socketID) {
		return false
	}

	rooms, ok := r.memberships[socketID]
	if !ok {
		rooms = newMemberSet()
		r.memberships[socketID] = rooms
	}
	rooms.add(roomID)
	return true
}

// Leave removes socketID from roomID. Leaving a room one is not in is a no-op.
func (r *Rooms) Leave(roomID, socketID string) bool {
	set, ok := r.members[roomID]
	if !ok || !set.remove(socketID) {
		return false
	}
	if len(set.order) == 0 {
		delete(r.members, roomID)
	}

	if rooms, ok := r.memberships[socketID]; ok {
		rooms.remove(roomID)
		if len(rooms.order) == 0 {
			delete(r.memberships, socketID)
		}
	}
	return true
}

// MembersOf returns the room's members in join order. Unknown rooms yield
// an empty slice.
func (r *Rooms) MembersOf(roomID string) []string {
	set, ok := r.members[roomID]
	if !ok {
		return []string{}
	}
	return set.list()
}

// RoomsOf returns every room socketID belongs to, in join order.
func (r *Rooms) RoomsOf(socketID string) []string {
	rooms, ok := r.memberships[socketID]
	if !ok {
		return []string{}
	}
	return rooms.list()
}

func (r *Rooms) Contains(roomID, socketID string) bool {
	set, ok := r.members[roomID]
	return ok && set.contains(socketID)
}

// ShareRoom reports whether two connections are members of at least one common room.
func (r *Rooms) ShareRoom(a, b string) bool {
	rooms, ok := r.memberships[a]
	if !ok {
		return false
	}
	for _, roomID := range rooms.order {
		if r.Contains(roomID, b) {
			return true
		}
	}
	return false
}

// Summaries lists non-empty rooms sorted by id.
func (r *Rooms) Summaries() []types.RoomSummary {
	out := make([]types.RoomSummary, 0, len(r.members))
	for roomID, set := range r.members {
		out = append(out, types.RoomSummary{RoomID: roomID, Members: len(set.order)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// Len returns the number of non-empty rooms.
func (r *Rooms) Len() int {
	return len(r.members)
}
