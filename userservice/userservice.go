// Package userservice exposes user identity and presence over rpcprovider:
// login/registration credential checks and the online/offline state
// transitions the gateway's routing decisions depend on.
package userservice

import (
	"context"

	"github.com/mpchat/meshline/store"
)

// UserService is registered with an rpcprovider.Provider under the name
// "UserService"; every exported method matching the RPC shape becomes
// callable as "UserService.<Method>".
type UserService struct {
	Store store.UserStore
}

func New(s store.UserStore) *UserService {
	return &UserService{Store: s}
}

type LoginArgs struct {
	ID       int32
	Password string
}

type LoginReply struct {
	OK     bool
	Errno  int
	Errmsg string
	Name   string
}

// Login checks credentials: errno 1 for a bad id/password, errno 2 for an
// already-online account, 0 on success (and flips the user's state to
// online as a side effect).
func (s *UserService) Login(args *LoginArgs, reply *LoginReply) error {
	ctx := context.Background()
	u, ok, err := s.Store.Query(ctx, args.ID)
	if err != nil {
		return err
	}
	if !ok || u.Pwd != args.Password {
		reply.Errno = 1
		reply.Errmsg = "id or password is invalid!"
		return nil
	}
	if u.State == store.StateOnline {
		reply.Errno = 2
		reply.Errmsg = "this account is using, input another!"
		return nil
	}
	u.State = store.StateOnline
	if err := s.Store.UpdateState(ctx, u); err != nil {
		return err
	}
	reply.OK = true
	reply.Name = u.Name
	return nil
}

type RegisterArgs struct {
	Name     string
	Password string
}

type RegisterReply struct {
	OK bool
	ID int32
}

func (s *UserService) Register(args *RegisterArgs, reply *RegisterReply) error {
	u := &store.User{Name: args.Name, Pwd: args.Password}
	if err := s.Store.Insert(context.Background(), u); err != nil {
		reply.OK = false
		return nil
	}
	reply.OK = true
	reply.ID = u.ID
	return nil
}

type SetStateArgs struct {
	ID    int32
	State string
}

type OKReply struct{ OK bool }

func (s *UserService) SetState(args *SetStateArgs, reply *OKReply) error {
	if err := s.Store.UpdateState(context.Background(), store.User{ID: args.ID, State: args.State}); err != nil {
		return err
	}
	reply.OK = true
	return nil
}

type UserIDArgs struct{ ID int32 }

type QueryReply struct {
	Found bool
	Name  string
	State string
}

func (s *UserService) Query(args *UserIDArgs, reply *QueryReply) error {
	u, ok, err := s.Store.Query(context.Background(), args.ID)
	if err != nil {
		return err
	}
	reply.Found = ok
	if ok {
		reply.Name = u.Name
		reply.State = u.State
	}
	return nil
}

type Empty struct{}

// ResetAllOffline marks every user offline. Called from the gateway's
// signal handler on shutdown, so presence doesn't stay stale after a
// gateway takes its sessions down with it.
func (s *UserService) ResetAllOffline(args *Empty, reply *OKReply) error {
	if err := s.Store.ResetAllOffline(context.Background()); err != nil {
		return err
	}
	reply.OK = true
	return nil
}
