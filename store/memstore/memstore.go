// Package memstore implements meshline's store interfaces entirely
// in-memory, so the gateway and services can be exercised in tests (and run
// standalone) without a real database. Package store's doc comment explains
// why no SQL-backed implementation lives in this repo.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/mpchat/meshline/store"
)

// UserStore is an in-memory store.UserStore.
type UserStore struct {
	mu     sync.Mutex
	users  map[int32]store.User
	nextID int32
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[int32]store.User), nextID: 1}
}

func (s *UserStore) Query(ctx context.Context, id int32) (store.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *UserStore) Insert(ctx context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.nextID
	s.nextID++
	if u.State == "" {
		u.State = store.StateOffline
	}
	s.users[u.ID] = *u
	return nil
}

func (s *UserStore) UpdateState(ctx context.Context, u store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[u.ID]
	if !ok {
		return fmt.Errorf("memstore: user %d not found", u.ID)
	}
	existing.State = u.State
	s.users[u.ID] = existing
	return nil
}

func (s *UserStore) ResetAllOffline(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.users {
		u.State = store.StateOffline
		s.users[id] = u
	}
	return nil
}

// FriendStore is an in-memory store.FriendStore.
type FriendStore struct {
	mu      sync.Mutex
	friends map[int32][]int32
	users   *UserStore
}

func NewFriendStore(users *UserStore) *FriendStore {
	return &FriendStore{friends: make(map[int32][]int32), users: users}
}

func (s *FriendStore) Insert(ctx context.Context, userID, friendID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.friends[userID] {
		if id == friendID {
			return nil
		}
	}
	s.friends[userID] = append(s.friends[userID], friendID)
	return nil
}

func (s *FriendStore) Query(ctx context.Context, userID int32) ([]store.User, error) {
	s.mu.Lock()
	ids := append([]int32(nil), s.friends[userID]...)
	s.mu.Unlock()

	out := make([]store.User, 0, len(ids))
	for _, id := range ids {
		if u, ok, _ := s.users.Query(ctx, id); ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// GroupStore is an in-memory store.GroupStore.
type GroupStore struct {
	mu     sync.Mutex
	groups map[int32]*store.Group
	nextID int32
	users  *UserStore
}

func NewGroupStore(users *UserStore) *GroupStore {
	return &GroupStore{groups: make(map[int32]*store.Group), nextID: 1, users: users}
}

func (s *GroupStore) CreateGroup(ctx context.Context, g *store.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.ID = s.nextID
	s.nextID++
	copied := *g
	s.groups[g.ID] = &copied
	return nil
}

func (s *GroupStore) AddGroup(ctx context.Context, userID, groupID int32, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("memstore: group %d not found", groupID)
	}
	for _, m := range g.Members {
		if m.ID == userID {
			return nil
		}
	}
	name, state := "", store.StateOffline
	if u, ok, _ := s.users.Query(ctx, userID); ok {
		name, state = u.Name, u.State
	}
	g.Members = append(g.Members, store.GroupUser{ID: userID, Name: name, State: state, Role: role})
	return nil
}

func (s *GroupStore) QueryGroups(ctx context.Context, userID int32) ([]store.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Group
	for _, g := range s.groups {
		for _, m := range g.Members {
			if m.ID == userID {
				out = append(out, *g)
				break
			}
		}
	}
	return out, nil
}

func (s *GroupStore) QueryGroupUsers(ctx context.Context, userID, groupID int32) ([]int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, nil
	}
	out := make([]int32, 0, len(g.Members))
	for _, m := range g.Members {
		if m.ID == userID {
			continue
		}
		out = append(out, m.ID)
	}
	return out, nil
}

// OfflineMailboxStore is an in-memory store.OfflineMailboxStore.
type OfflineMailboxStore struct {
	mu    sync.Mutex
	boxes map[int32][]string
}

func NewOfflineMailboxStore() *OfflineMailboxStore {
	return &OfflineMailboxStore{boxes: make(map[int32][]string)}
}

func (s *OfflineMailboxStore) Insert(ctx context.Context, userID int32, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boxes[userID] = append(s.boxes[userID], msg)
	return nil
}

func (s *OfflineMailboxStore) Query(ctx context.Context, userID int32) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.boxes[userID]...)
	return out, nil
}

func (s *OfflineMailboxStore) Remove(ctx context.Context, userID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.boxes, userID)
	return nil
}
