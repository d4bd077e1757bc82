package gateway

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mpchat/meshline/messageservice"
	"github.com/mpchat/meshline/pubsub"
	"github.com/mpchat/meshline/relationservice"
	"github.com/mpchat/meshline/rpcconsumer"
	"github.com/mpchat/meshline/userservice"
	"go.uber.org/zap"
)

// registerOnlineUser registers and logs a user in through the shared
// backend so UserService reports them online, independent of any gateway
// instance's ConnTable.
func registerOnlineUser(t *testing.T, channel *rpcconsumer.Channel, name string) int32 {
	t.Helper()
	var reg userservice.RegisterReply
	if err := channel.CallMethod("UserService.Register", 0, &userservice.RegisterArgs{Name: name, Password: "pw"}, &reg); err != nil || !reg.OK {
		t.Fatalf("register %s: %v", name, err)
	}
	var login userservice.LoginReply
	if err := channel.CallMethod("UserService.Login", reg.ID, &userservice.LoginArgs{ID: reg.ID, Password: "pw"}, &login); err != nil || !login.OK {
		t.Fatalf("login %s: %v", name, err)
	}
	return reg.ID
}

func createGroup(t *testing.T, channel *rpcconsumer.Channel, creatorID int32, name, desc string) int32 {
	t.Helper()
	var reply relationservice.CreateGroupReply
	if err := channel.CallMethod("RelationService.CreateGroup", creatorID,
		&relationservice.CreateGroupArgs{UserID: creatorID, Name: name, Desc: desc}, &reply); err != nil || !reply.OK {
		t.Fatalf("CreateGroup: %v", err)
	}
	return reply.GroupID
}

func addGroupMember(t *testing.T, channel *rpcconsumer.Channel, userID, groupID int32) {
	t.Helper()
	var reply relationservice.OKReply
	if err := channel.CallMethod("RelationService.AddGroup", userID,
		&relationservice.AddGroupArgs{UserID: userID, GroupID: groupID}, &reply); err != nil || !reply.OK {
		t.Fatalf("AddGroup: %v", err)
	}
}

// TestRouteOneToOneLocalDelivery covers the simplest delivery case: sender
// and recipient are both on this gateway instance's ConnTable, so delivery
// is a direct socket write with no RPC round trip.
func TestRouteOneToOneLocalDelivery(t *testing.T) {
	channel := newTestBackend(t)
	conns := NewConnTable()
	router := NewRouter(conns, channel, pubsub.NewLocalBridge(), zap.NewNop())
	ctx := context.Background()

	fromID := registerOnlineUser(t, channel, "sender")
	toID := registerOnlineUser(t, channel, "recipient")

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()
	conns.Insert(toID, serverConn)

	received := make(chan string, 1)
	go func() {
		buf := make([]byte, 4096)
		n, err := clientConn.Read(buf)
		if err != nil {
			return
		}
		received <- string(buf[:n])
	}()

	if err := router.RouteOneToOne(ctx, fromID, toID, `{"msg":"hi"}`); err != nil {
		t.Fatalf("RouteOneToOne: %v", err)
	}

	select {
	case body := <-received:
		if body != "{\"msg\":\"hi\"}\n" {
			t.Fatalf("received = %q, want %q", body, "{\"msg\":\"hi\"}\n")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local delivery")
	}
}

// TestRouteOneToOnePublishesWhenRemoteOnline covers the cross-gateway
// case: the recipient is online but not in this gateway instance's
// ConnTable (they're connected to a different instance), so delivery falls
// through to a cross-gateway bridge publish rather than a local write or
// the offline mailbox.
func TestRouteOneToOnePublishesWhenRemoteOnline(t *testing.T) {
	channel := newTestBackend(t)
	bridge := pubsub.NewLocalBridge()
	ctx := context.Background()

	fromID := registerOnlineUser(t, channel, "sender2")
	toID := registerOnlineUser(t, channel, "remote-recipient")

	// toID's own gateway instance would have subscribed them on login; this
	// test plays that part directly since only one Router is under test.
	received := make(chan string, 1)
	if err := bridge.Subscribe(ctx, toID, func(body string) { received <- body }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer bridge.Unsubscribe(toID)

	// Sender's own gateway instance's ConnTable has no entry for toID.
	senderConns := NewConnTable()
	router := NewRouter(senderConns, channel, bridge, zap.NewNop())

	if err := router.RouteOneToOne(ctx, fromID, toID, `{"msg":"cross-gateway"}`); err != nil {
		t.Fatalf("RouteOneToOne: %v", err)
	}

	select {
	case body := <-received:
		if body != `{"msg":"cross-gateway"}` {
			t.Fatalf("received = %q, want %q", body, `{"msg":"cross-gateway"}`)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cross-gateway publish")
	}

	var offline messageservice.QueryOfflineReply
	if err := channel.CallMethod("MessageService.QueryOffline", toID, &messageservice.UserIDArgs{UserID: toID}, &offline); err != nil {
		t.Fatalf("QueryOffline: %v", err)
	}
	if len(offline.Messages) != 0 {
		t.Fatalf("expected nothing persisted to the offline mailbox for an online recipient, got %v", offline.Messages)
	}
}

// TestRouteOneToOnePersistsOfflineWhenNobodyOnline: the recipient is
// neither locally connected nor reported online by UserService, so the
// message must land in the offline mailbox for delivery at next login.
func TestRouteOneToOnePersistsOfflineWhenNobodyOnline(t *testing.T) {
	channel := newTestBackend(t)
	conns := NewConnTable()
	router := NewRouter(conns, channel, pubsub.NewLocalBridge(), zap.NewNop())
	ctx := context.Background()

	fromID := registerOnlineUser(t, channel, "sender3")

	var reg userservice.RegisterReply
	if err := channel.CallMethod("UserService.Register", 0, &userservice.RegisterArgs{Name: "offline-recipient", Password: "pw"}, &reg); err != nil || !reg.OK {
		t.Fatalf("register offline-recipient: %v", err)
	}
	toID := reg.ID // never logged in, so UserService reports them offline

	if err := router.RouteOneToOne(ctx, fromID, toID, `{"msg":"while you were out"}`); err != nil {
		t.Fatalf("RouteOneToOne: %v", err)
	}

	var offline messageservice.QueryOfflineReply
	if err := channel.CallMethod("MessageService.QueryOffline", toID, &messageservice.UserIDArgs{UserID: toID}, &offline); err != nil {
		t.Fatalf("QueryOffline: %v", err)
	}
	if len(offline.Messages) != 1 || offline.Messages[0] != `{"msg":"while you were out"}` {
		t.Fatalf("offline.Messages = %v, want one message", offline.Messages)
	}
}

// TestRouteGroupFansOutToEveryMemberExceptSender mixes the delivery cases
// in one group: one member is local, one is offline, and the sender itself
// must never receive its own message back. The sender is registered but
// never logged in, so an echo to it would land in its offline mailbox.
func TestRouteGroupFansOutToEveryMemberExceptSender(t *testing.T) {
	channel := newTestBackend(t)
	conns := NewConnTable()
	router := NewRouter(conns, channel, pubsub.NewLocalBridge(), zap.NewNop())
	ctx := context.Background()

	var creatorReg userservice.RegisterReply
	if err := channel.CallMethod("UserService.Register", 0, &userservice.RegisterArgs{Name: "creator", Password: "pw"}, &creatorReg); err != nil || !creatorReg.OK {
		t.Fatalf("register creator: %v", err)
	}
	creatorID := creatorReg.ID
	localMemberID := registerOnlineUser(t, channel, "local-member")

	var offlineReg userservice.RegisterReply
	if err := channel.CallMethod("UserService.Register", 0, &userservice.RegisterArgs{Name: "offline-member", Password: "pw"}, &offlineReg); err != nil || !offlineReg.OK {
		t.Fatalf("register offline-member: %v", err)
	}
	offlineMemberID := offlineReg.ID

	groupID := createGroup(t, channel, creatorID, "team", "test group")
	addGroupMember(t, channel, localMemberID, groupID)
	addGroupMember(t, channel, offlineMemberID, groupID)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()
	conns.Insert(localMemberID, serverConn)

	received := make(chan string, 1)
	go func() {
		buf := make([]byte, 4096)
		n, err := clientConn.Read(buf)
		if err != nil {
			return
		}
		received <- string(buf[:n])
	}()

	if err := router.RouteGroup(ctx, creatorID, groupID, `{"msg":"group hello"}`); err != nil {
		t.Fatalf("RouteGroup: %v", err)
	}

	select {
	case body := <-received:
		if body != "{\"msg\":\"group hello\"}\n" {
			t.Fatalf("local member received = %q", body)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local group member delivery")
	}

	var offline messageservice.QueryOfflineReply
	if err := channel.CallMethod("MessageService.QueryOffline", offlineMemberID, &messageservice.UserIDArgs{UserID: offlineMemberID}, &offline); err != nil {
		t.Fatalf("QueryOffline: %v", err)
	}
	if len(offline.Messages) != 1 {
		t.Fatalf("offline member's mailbox = %v, want one message", offline.Messages)
	}

	var creatorOffline messageservice.QueryOfflineReply
	if err := channel.CallMethod("MessageService.QueryOffline", creatorID, &messageservice.UserIDArgs{UserID: creatorID}, &creatorOffline); err != nil {
		t.Fatalf("QueryOffline creator: %v", err)
	}
	if len(creatorOffline.Messages) != 0 {
		t.Fatal("sender must not receive its own group message back")
	}
}
