// Package store defines the domain persistence contracts meshline's gateway
// and services read and write through. Each interface is a thin wrapper
// over what would otherwise be plain SQL CRUD, so only the contracts live
// here; store/memstore provides the in-memory implementation the rest of
// the repo is exercised against.
package store

import "context"

// User is one account: id, display name, password, and an
// "online"/"offline" state string.
type User struct {
	ID    int32
	Name  string
	Pwd   string
	State string
}

const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// GroupUser is a member of a Group, carrying its role ("creator"/"normal").
type GroupUser struct {
	ID    int32
	Name  string
	State string
	Role  string
}

// Group is one chat group and its member roster.
type Group struct {
	ID      int32
	Name    string
	Desc    string
	Members []GroupUser
}

// UserStore is the account-of-record contract userservice serves from.
type UserStore interface {
	// Query returns the user with id, or ok=false if it doesn't exist.
	Query(ctx context.Context, id int32) (u User, ok bool, err error)
	// Insert creates a new user, assigning and returning its id.
	Insert(ctx context.Context, u *User) error
	// UpdateState sets u.ID's state to u.State.
	UpdateState(ctx context.Context, u User) error
	// ResetAllOffline marks every online user offline. Called by the
	// gateway's signal handler on shutdown.
	ResetAllOffline(ctx context.Context) error
}

// FriendStore is the friend-relationship contract relationservice serves
// friend lists from.
type FriendStore interface {
	// Insert records a friend relationship between userID and friendID.
	Insert(ctx context.Context, userID, friendID int32) error
	// Query returns userID's friends.
	Query(ctx context.Context, userID int32) ([]User, error)
}

// GroupStore is the group-membership contract relationservice serves
// rosters from.
type GroupStore interface {
	// CreateGroup creates g, assigning and returning its id.
	CreateGroup(ctx context.Context, g *Group) error
	// AddGroup adds userID to groupID with the given role.
	AddGroup(ctx context.Context, userID, groupID int32, role string) error
	// QueryGroups returns the groups userID belongs to, each populated
	// with its member list.
	QueryGroups(ctx context.Context, userID int32) ([]Group, error)
	// QueryGroupUsers returns the member ids of groupID, excluding
	// userID (the sender; group chat never echoes to its sender).
	QueryGroupUsers(ctx context.Context, userID, groupID int32) ([]int32, error)
}

// OfflineMailboxStore is the undelivered-message contract messageservice
// serves the offline mailbox from.
type OfflineMailboxStore interface {
	// Insert appends msg to userID's offline mailbox.
	Insert(ctx context.Context, userID int32, msg string) error
	// Query returns userID's queued offline messages.
	Query(ctx context.Context, userID int32) ([]string, error)
	// Remove clears userID's offline mailbox.
	Remove(ctx context.Context, userID int32) error
}
