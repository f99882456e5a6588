package session

import (
	"github.com/samber/lo"

	"codesync/pkg/types"
)

// Roster is the ordered presence list of a room. Every distinct connection
// appears, even when display names collide.
type Roster []types.Participant

// Visible coalesces entries sharing a display name, keeping the first
// occurrence. Use it for display only; addressing uses the full roster.
func (r Roster) Visible() Roster {
	return lo.UniqBy(r, func(p types.Participant) string {
		return p.Username
	})
}

func (r Roster) SocketIDs() []string {
	return lo.Map(r, func(p types.Participant, _ int) string {
		return p.SocketID
	})
}

// Usernames returns the display names in roster order, duplicates included.
func (r Roster) Usernames() []string {
	return lo.Map(r, func(p types.Participant, _ int) string {
		return p.Username
	})
}

// Directory bundles the connection registry and the room index. The hub is
// its only writer.
type Directory struct {
	Names *Names
	Rooms *Rooms
}

func NewDirectory() *Directory {
	return &Directory{
		Names: NewNames(),
		Rooms: NewRooms(),
	}
}

// Roster resolves a room's members to participants in join order. An empty
// or unknown room yields an empty roster.
func (d *Directory) Roster(roomID string) Roster {
	members := d.Rooms.MembersOf(roomID)
	roster := make(Roster, 0, len(members))
	for _, socketID := range members {
		name, _ := d.Names.Lookup(socketID)
		roster = append(roster, types.Participant{SocketID: socketID, Username: name})
	}
	return roster
}
