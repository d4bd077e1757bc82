package userservice

import (
	"context"
	"testing"

	"github.com/mpchat/meshline/store"
	"github.com/mpchat/meshline/store/memstore"
)

func newTestService() (*UserService, *memstore.UserStore) {
	s := memstore.NewUserStore()
	return New(s), s
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, ms := newTestService()
	u := &store.User{Name: "alice", Pwd: "secret"}
	ms.Insert(context.Background(), u)

	var reply LoginReply
	if err := svc.Login(&LoginArgs{ID: u.ID, Password: "wrong"}, &reply); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if reply.OK || reply.Errno != 1 {
		t.Fatalf("reply = %+v, want errno 1", reply)
	}
}

func TestLoginSucceedsAndMarksOnline(t *testing.T) {
	svc, ms := newTestService()
	u := &store.User{Name: "alice", Pwd: "secret"}
	ms.Insert(context.Background(), u)

	var reply LoginReply
	if err := svc.Login(&LoginArgs{ID: u.ID, Password: "secret"}, &reply); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !reply.OK || reply.Name != "alice" {
		t.Fatalf("reply = %+v, want OK with name alice", reply)
	}

	got, _, _ := ms.Query(context.Background(), u.ID)
	if got.State != store.StateOnline {
		t.Fatalf("state after login = %q, want online", got.State)
	}
}

func TestLoginRejectsSecondLogin(t *testing.T) {
	svc, ms := newTestService()
	u := &store.User{Name: "alice", Pwd: "secret", State: store.StateOnline}
	ms.Insert(context.Background(), u)
	ms.UpdateState(context.Background(), *u)

	var reply LoginReply
	if err := svc.Login(&LoginArgs{ID: u.ID, Password: "secret"}, &reply); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if reply.OK || reply.Errno != 2 {
		t.Fatalf("reply = %+v, want errno 2 for already-online account", reply)
	}
}

func TestRegisterAssignsID(t *testing.T) {
	svc, _ := newTestService()
	var reply RegisterReply
	if err := svc.Register(&RegisterArgs{Name: "bob", Password: "pw"}, &reply); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !reply.OK || reply.ID == 0 {
		t.Fatalf("reply = %+v, want OK with nonzero id", reply)
	}
}

func TestResetAllOffline(t *testing.T) {
	svc, ms := newTestService()
	u := &store.User{Name: "alice", Pwd: "secret", State: store.StateOnline}
	ms.Insert(context.Background(), u)
	ms.UpdateState(context.Background(), *u)

	var reply OKReply
	if err := svc.ResetAllOffline(&Empty{}, &reply); err != nil {
		t.Fatalf("ResetAllOffline: %v", err)
	}
	got, _, _ := ms.Query(context.Background(), u.ID)
	if got.State != store.StateOffline {
		t.Fatalf("state after ResetAllOffline = %q, want offline", got.State)
	}
}
