package gateway

import (
	"net"
	"sync"
)

// ConnTable tracks which connection serves which online user, one coarse
// mutex over a plain map. RemoveByConn is an O(n) scan: the invariant is
// "at most one entry per connection", and at the size of one gateway's
// session count a reverse index isn't worth maintaining.
type ConnTable struct {
	mu   sync.Mutex
	byID map[int32]net.Conn
}

func NewConnTable() *ConnTable {
	return &ConnTable{byID: make(map[int32]net.Conn)}
}

// Insert records that userID is online over conn.
func (t *ConnTable) Insert(userID int32, conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[userID] = conn
}

// Remove drops userID's entry, if any.
func (t *ConnTable) Remove(userID int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, userID)
}

// Lookup returns userID's connection, if online.
func (t *ConnTable) Lookup(userID int32) (net.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byID[userID]
	return c, ok
}

// RemoveByConn scans for the user id associated with conn and removes it,
// returning that id and whether an entry was found. Used on disconnect,
// where the caller only has the net.Conn, not the user id.
func (t *ConnTable) RemoveByConn(conn net.Conn) (int32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, c := range t.byID {
		if c == conn {
			delete(t.byID, id)
			return id, true
		}
	}
	return 0, false
}
