// Package gateway is meshline's client-facing edge: it terminates one
// long-lived connection per logged-in user, speaks the message-id protocol
// from envelope.go, and fans business logic out to userservice,
// relationservice, and messageservice over the C6 rpcconsumer channel.
package gateway

import (
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/mpchat/meshline/message"
	"github.com/mpchat/meshline/messageservice"
	"github.com/mpchat/meshline/middleware"
	"github.com/mpchat/meshline/pubsub"
	"github.com/mpchat/meshline/relationservice"
	"github.com/mpchat/meshline/rpcconsumer"
	"github.com/mpchat/meshline/userservice"
	"go.uber.org/zap"
)

// loginAttemptRate/loginAttemptBurst bound how often one connection may
// retry LOGIN_MSG before being told to back off, independent of any
// provider-side rate limiting the backend services apply.
const (
	loginAttemptRate  = 1
	loginAttemptBurst = 3
)

// Gateway dispatches inbound client envelopes to the right handler and
// owns the ConnTable/Router pair that make one-to-one and group delivery
// work across gateway instances.
type Gateway struct {
	conns   *ConnTable
	router  *Router
	channel *rpcconsumer.Channel
	bridge  pubsub.Bridge
	log     *zap.Logger

	corrMu sync.Mutex
	corrID map[net.Conn]string

	loginMu       sync.Mutex
	loginLimiters map[net.Conn]middleware.Middleware
}

func NewGateway(channel *rpcconsumer.Channel, bridge pubsub.Bridge, log *zap.Logger) *Gateway {
	conns := NewConnTable()
	return &Gateway{
		conns:         conns,
		router:        NewRouter(conns, channel, bridge, log),
		channel:       channel,
		bridge:        bridge,
		log:           log,
		corrID:        make(map[net.Conn]string),
		loginLimiters: make(map[net.Conn]middleware.Middleware),
	}
}

// connLogger returns a logger tagged with conn's correlation id, assigning
// one on first use so every log line for a session can be grepped together.
func (g *Gateway) connLogger(conn net.Conn) *zap.Logger {
	g.corrMu.Lock()
	id, ok := g.corrID[conn]
	if !ok {
		id = uuid.NewString()
		g.corrID[conn] = id
	}
	g.corrMu.Unlock()
	return g.log.With(zap.String("conn_id", id))
}

// OnAccept assigns conn a correlation id and logs the new session.
func (g *Gateway) OnAccept(conn net.Conn) {
	g.connLogger(conn).Info("gateway: client connected", zap.String("remote_addr", conn.RemoteAddr().String()))
}

// OnDisconnect removes conn's user (if any) from the ConnTable, unsubscribes
// it from cross-gateway delivery, and marks it offline.
func (g *Gateway) OnDisconnect(conn net.Conn) {
	log := g.connLogger(conn)
	g.corrMu.Lock()
	delete(g.corrID, conn)
	g.corrMu.Unlock()

	g.loginMu.Lock()
	delete(g.loginLimiters, conn)
	g.loginMu.Unlock()

	id, ok := g.conns.RemoveByConn(conn)
	if !ok {
		return
	}
	g.bridge.Unsubscribe(id)
	var reply userservice.OKReply
	if err := g.channel.CallMethod("UserService.SetState", id,
		&userservice.SetStateArgs{ID: id, State: "offline"}, &reply); err != nil {
		log.Error("gateway: mark offline on disconnect failed", zap.Int32("user_id", id), zap.Error(err))
	}
}

// Dispatch parses raw as an Envelope and routes it to the handler for its
// msgid, returning the serialized response envelope to write back. Unknown
// msgids and parse failures both reply ERROR_MSG, with distinct error
// strings so a client can tell the two apart.
func (g *Gateway) Dispatch(ctx context.Context, conn net.Conn, raw []byte) []byte {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return mustMarshal(errorEnvelope("Invalid message format"))
	}

	var resp Envelope
	switch env.MsgID {
	case LoginMsg:
		resp = g.dispatchLogin(ctx, conn, env)
	case RegMsg:
		resp = g.HandleRegister(ctx, env)
	case LoginOutMsg:
		resp = g.HandleLoginOut(ctx, conn, env)
	case OneChatMsg:
		resp = g.HandleOneChat(ctx, env, raw)
	case GroupChatMsg:
		resp = g.HandleGroupChat(ctx, env, raw)
	case AddFriendMsg:
		resp = g.HandleAddFriend(ctx, env)
	case CreateGroupMsg:
		resp = g.HandleCreateGroup(ctx, env)
	case AddGroupMsg:
		resp = g.HandleAddGroup(ctx, env)
	default:
		resp = errorEnvelope("Unknown message type")
	}
	return mustMarshal(resp)
}

// loginLimiterFor returns conn's login rate limiter, creating one on first
// use. Each connection gets its own token bucket so one slow/retrying
// client can't exhaust the allowance of another.
func (g *Gateway) loginLimiterFor(conn net.Conn) middleware.Middleware {
	g.loginMu.Lock()
	defer g.loginMu.Unlock()
	m, ok := g.loginLimiters[conn]
	if !ok {
		m = middleware.RateLimitMiddleware(loginAttemptRate, loginAttemptBurst)
		g.loginLimiters[conn] = m
	}
	return m
}

// dispatchLogin runs HandleLogin behind conn's per-connection login rate
// limiter, so a connection hammering LOGIN_MSG gets throttled before it
// reaches UserService at all.
func (g *Gateway) dispatchLogin(ctx context.Context, conn net.Conn, env Envelope) Envelope {
	var resp Envelope
	gate := g.loginLimiterFor(conn)(func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		resp = g.HandleLogin(ctx, conn, env)
		return &message.RPCMessage{}
	})
	if rpcResp := gate(ctx, &message.RPCMessage{}); rpcResp.Error != "" {
		return errorEnvelope(rpcResp.Error)
	}
	return resp
}

func mustMarshal(env Envelope) []byte {
	b, err := json.Marshal(env)
	if err != nil {
		return []byte(`{"msgid":14,"errmsg":"internal encode failure"}`)
	}
	return b
}

// HandleLogin authenticates the user, and on success records the
// connection, reads and clears the offline mailbox, attaches friend/group
// snapshots, and subscribes the user on the pub/sub bridge.
func (g *Gateway) HandleLogin(ctx context.Context, conn net.Conn, env Envelope) Envelope {
	var loginReply userservice.LoginReply
	err := g.channel.CallMethod("UserService.Login", env.ID,
		&userservice.LoginArgs{ID: env.ID, Password: env.Password}, &loginReply)
	if err != nil {
		return errorEnvelope(err.Error())
	}
	if !loginReply.OK {
		return Envelope{MsgID: LoginMsgAck, Errno: loginReply.Errno, Errmsg: loginReply.Errmsg}
	}

	g.conns.Insert(env.ID, conn)
	userID := env.ID
	g.bridge.Subscribe(ctx, userID, func(body string) {
		// The subscription can outlive this login's connection briefly
		// (disconnect racing an in-flight publish), so resolve the live
		// connection through the table; a message for a user who's gone
		// falls back to the offline mailbox instead of a dead socket.
		if c, ok := g.conns.Lookup(userID); ok {
			c.Write(append([]byte(body), '\n'))
			return
		}
		var persisted messageservice.OKReply
		if err := g.channel.CallMethod("MessageService.InsertOffline", userID,
			&messageservice.InsertOfflineArgs{UserID: userID, Msg: body}, &persisted); err != nil {
			g.log.Error("gateway: persist bridged message failed", zap.Int32("user_id", userID), zap.Error(err))
		}
	})

	resp := Envelope{MsgID: LoginMsgAck, Errno: 0, ID: env.ID, Name: loginReply.Name, State: "online"}

	var offline messageservice.QueryOfflineReply
	if err := g.channel.CallMethod("MessageService.QueryOffline", env.ID, &messageservice.UserIDArgs{UserID: env.ID}, &offline); err == nil && len(offline.Messages) > 0 {
		resp.OfflineMsg = offline.Messages
		var ok messageservice.OKReply
		g.channel.CallMethod("MessageService.RemoveOffline", env.ID, &messageservice.UserIDArgs{UserID: env.ID}, &ok)
	}

	var friends relationservice.QueryFriendsReply
	if err := g.channel.CallMethod("RelationService.QueryFriends", env.ID, &relationservice.UserIDArgs{UserID: env.ID}, &friends); err == nil {
		for _, f := range friends.Friends {
			b, _ := json.Marshal(f)
			resp.Friends = append(resp.Friends, string(b))
		}
	}

	var groups relationservice.QueryGroupsReply
	if err := g.channel.CallMethod("RelationService.QueryGroups", env.ID, &relationservice.UserIDArgs{UserID: env.ID}, &groups); err == nil {
		for _, gr := range groups.Groups {
			b, _ := json.Marshal(gr)
			resp.Groups = append(resp.Groups, string(b))
		}
	}

	return resp
}

func (g *Gateway) HandleRegister(ctx context.Context, env Envelope) Envelope {
	var reply userservice.RegisterReply
	if err := g.channel.CallMethod("UserService.Register", 0, &userservice.RegisterArgs{Name: env.Name, Password: env.Password}, &reply); err != nil {
		return errorEnvelope(err.Error())
	}
	if !reply.OK {
		return Envelope{MsgID: RegMsgAck, Errno: 1}
	}
	return Envelope{MsgID: RegMsgAck, Errno: 0, ID: reply.ID}
}

func (g *Gateway) HandleLoginOut(ctx context.Context, conn net.Conn, env Envelope) Envelope {
	g.conns.Remove(env.ID)
	g.bridge.Unsubscribe(env.ID)
	var reply userservice.OKReply
	g.channel.CallMethod("UserService.SetState", env.ID, &userservice.SetStateArgs{ID: env.ID, State: "offline"}, &reply)
	return Envelope{MsgID: LoginOutMsgAck, Errno: 0}
}

func (g *Gateway) HandleOneChat(ctx context.Context, env Envelope, raw []byte) Envelope {
	if err := g.router.RouteOneToOne(ctx, env.ID, env.ToID, string(raw)); err != nil {
		return errorEnvelope(err.Error())
	}
	return Envelope{MsgID: OneChatMsgAck, Errno: 0}
}

func (g *Gateway) HandleGroupChat(ctx context.Context, env Envelope, raw []byte) Envelope {
	if err := g.router.RouteGroup(ctx, env.ID, env.GroupID, string(raw)); err != nil {
		return errorEnvelope(err.Error())
	}
	return Envelope{MsgID: GroupChatMsgAck, Errno: 0}
}

func (g *Gateway) HandleAddFriend(ctx context.Context, env Envelope) Envelope {
	var reply relationservice.OKReply
	err := g.channel.CallMethod("RelationService.AddFriend", env.ID, &relationservice.AddFriendArgs{UserID: env.ID, FriendID: env.FriendID}, &reply)
	if err != nil || !reply.OK {
		return Envelope{MsgID: AddFriendMsgAck, Errno: 1}
	}
	return Envelope{MsgID: AddFriendMsgAck, Errno: 0}
}

func (g *Gateway) HandleCreateGroup(ctx context.Context, env Envelope) Envelope {
	var reply relationservice.CreateGroupReply
	err := g.channel.CallMethod("RelationService.CreateGroup", env.ID,
		&relationservice.CreateGroupArgs{UserID: env.ID, Name: env.GroupName, Desc: env.GroupDesc}, &reply)
	if err != nil || !reply.OK {
		return Envelope{MsgID: CreateGroupAck, Errno: 1}
	}
	return Envelope{MsgID: CreateGroupAck, Errno: 0, GroupID: reply.GroupID}
}

func (g *Gateway) HandleAddGroup(ctx context.Context, env Envelope) Envelope {
	var reply relationservice.OKReply
	err := g.channel.CallMethod("RelationService.AddGroup", env.ID, &relationservice.AddGroupArgs{UserID: env.ID, GroupID: env.GroupID}, &reply)
	if err != nil || !reply.OK {
		return Envelope{MsgID: AddGroupMsgAck, Errno: 1}
	}
	return Envelope{MsgID: AddGroupMsgAck, Errno: 0}
}
