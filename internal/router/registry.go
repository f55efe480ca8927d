package router

// userEntry is the registry record for one user with at least one live
// connection.
type userEntry struct {
	conns      map[Handle]Deliverer
	rooms      map[string]struct{}
	appliedSeq uint64
}

// registry is the bidirectional user/room index. It does no I/O and no
// locking; Router serialises every call.
//
// Invariants after every method returns:
//   - user u is in rooms[r] iff r is in users[u].rooms
//   - no rooms entry has an empty user set
//   - no users entry has an empty connection set
type registry struct {
	users map[string]*userEntry
	rooms map[string]map[string]struct{}
}

func newRegistry() *registry {
	return &registry{
		users: make(map[string]*userEntry),
		rooms: make(map[string]map[string]struct{}),
	}
}

func (g *registry) add(userID string, h Handle, d Deliverer) {
	e, ok := g.users[userID]
	if !ok {
		e = &userEntry{
			conns: make(map[Handle]Deliverer),
			rooms: make(map[string]struct{}),
		}
		g.users[userID] = e
	}
	e.conns[h] = d
}

// remove drops one connection. When it was the user's last, the user leaves
// every room and the entry is deleted. Unknown users or handles are ignored.
func (g *registry) remove(userID string, h Handle) bool {
	e, ok := g.users[userID]
	if !ok {
		return false
	}
	if _, ok := e.conns[h]; !ok {
		return false
	}
	delete(e.conns, h)

	if len(e.conns) == 0 {
		for room := range e.rooms {
			g.leave(userID, room)
		}
		delete(g.users, userID)
	}
	return true
}

// setRooms replaces the cached membership of userID with rooms, touching
// only the rooms that changed.
func (g *registry) setRooms(userID string, rooms []string) (joined, left int) {
	e, ok := g.users[userID]
	if !ok {
		return 0, 0
	}

	want := make(map[string]struct{}, len(rooms))
	for _, r := range rooms {
		want[r] = struct{}{}
	}

	for room := range e.rooms {
		if _, keep := want[room]; !keep {
			g.leave(userID, room)
			left++
		}
	}
	for room := range want {
		if _, have := e.rooms[room]; !have {
			g.join(userID, room)
			joined++
		}
	}
	return joined, left
}

func (g *registry) join(userID, room string) {
	members, ok := g.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		g.rooms[room] = members
	}
	members[userID] = struct{}{}
	g.users[userID].rooms[room] = struct{}{}
}

func (g *registry) leave(userID, room string) {
	if e, ok := g.users[userID]; ok {
		delete(e.rooms, room)
	}
	members, ok := g.rooms[room]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(g.rooms, room)
	}
}

func (g *registry) connection(userID string, h Handle) (Deliverer, bool) {
	e, ok := g.users[userID]
	if !ok {
		return nil, false
	}
	d, ok := e.conns[h]
	return d, ok
}

func (g *registry) appendConnections(dst []Deliverer, userID string) []Deliverer {
	e, ok := g.users[userID]
	if !ok {
		return dst
	}
	for _, d := range e.conns {
		dst = append(dst, d)
	}
	return dst
}

func (g *registry) roomConnections(room string) []Deliverer {
	members, ok := g.rooms[room]
	if !ok {
		return nil
	}
	var out []Deliverer
	for userID := range members {
		out = g.appendConnections(out, userID)
	}
	return out
}
