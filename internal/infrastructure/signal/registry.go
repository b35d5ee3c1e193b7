package signal

import (
	"sort"

	"koma/internal/core/domain"
)

// JoinResult is the outcome of a registry join.
type JoinResult int

const (
	Joined JoinResult = iota
	AlreadyMember
	RoomFull
)

type room struct {
	id      domain.RoomID
	class   domain.RoomClass
	members map[*Participant]struct{}
}

// Registry maps room keys to their members. It is not safe for concurrent use;
// the hub loop is its only caller.
type Registry struct {
	capacity int
	rooms    map[domain.RoomID]*room
}

func NewRegistry(callCapacity int) *Registry {
	if callCapacity <= 0 {
		callCapacity = domain.CallRoomCapacity
	}
	return &Registry{
		capacity: callCapacity,
		rooms:    make(map[domain.RoomID]*room),
	}
}

// Join adds p to the room, creating it on first use. Bounded call rooms at
// capacity reject newcomers and are left untouched.
func (r *Registry) Join(p *Participant, id domain.RoomID) (JoinResult, int) {
	rm, ok := r.rooms[id]
	if ok {
		if _, member := rm.members[p]; member {
			return AlreadyMember, len(rm.members)
		}
		if rm.class == domain.RoomClassCall && len(rm.members) >= r.capacity {
			return RoomFull, len(rm.members)
		}
	} else {
		rm = &room{
			id:      id,
			class:   domain.ClassOf(id),
			members: make(map[*Participant]struct{}),
		}
		r.rooms[id] = rm
	}

	rm.members[p] = struct{}{}
	p.rooms[id] = struct{}{}
	return Joined, len(rm.members)
}

// Leave removes p from the room and deletes the room once empty. It reports
// whether p was a member and how many members remain.
func (r *Registry) Leave(p *Participant, id domain.RoomID) (bool, int) {
	delete(p.rooms, id)

	rm, ok := r.rooms[id]
	if !ok {
		return false, 0
	}
	if _, member := rm.members[p]; !member {
		return false, len(rm.members)
	}

	delete(rm.members, p)
	remaining := len(rm.members)
	if remaining == 0 {
		delete(r.rooms, id)
	}
	return true, remaining
}

// IsMember reports whether p currently belongs to the room.
func (r *Registry) IsMember(p *Participant, id domain.RoomID) bool {
	rm, ok := r.rooms[id]
	if !ok {
		return false
	}
	_, member := rm.members[p]
	return member
}

// Members returns the members of a room other than except.
func (r *Registry) Members(id domain.RoomID, except *Participant) []*Participant {
	rm, ok := r.rooms[id]
	if !ok {
		return nil
	}
	out := make([]*Participant, 0, len(rm.members))
	for m := range rm.members {
		if m != except {
			out = append(out, m)
		}
	}
	return out
}

// Count returns the number of members in a room.
func (r *Registry) Count(id domain.RoomID) int {
	if rm, ok := r.rooms[id]; ok {
		return len(rm.members)
	}
	return 0
}

// Class returns the class of a live room.
func (r *Registry) Class(id domain.RoomID) domain.RoomClass {
	if rm, ok := r.rooms[id]; ok {
		return rm.class
	}
	return domain.ClassOf(id)
}

// RoomCount returns the number of live rooms per class.
func (r *Registry) RoomCount(class domain.RoomClass) int {
	n := 0
	for _, rm := range r.rooms {
		if rm.class == class {
			n++
		}
	}
	return n
}

// Stats returns live rooms sorted by key.
func (r *Registry) Stats() []domain.RoomStats {
	out := make([]domain.RoomStats, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, domain.RoomStats{
			Room:    rm.id,
			Class:   rm.class,
			Members: len(rm.members),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}
