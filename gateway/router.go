package gateway

import (
	"context"
	"fmt"

	"github.com/mpchat/meshline/messageservice"
	"github.com/mpchat/meshline/pubsub"
	"github.com/mpchat/meshline/relationservice"
	"github.com/mpchat/meshline/rpcconsumer"
	"github.com/mpchat/meshline/userservice"
	"go.uber.org/zap"
)

// Router implements the three-step delivery rule for chat messages: try
// local delivery first, fall back to publishing for another gateway
// instance to pick up, and persist to the offline mailbox only if neither
// succeeds. User presence and group membership live behind
// userservice/relationservice, reached over the rpcconsumer channel, since
// the gateway itself owns no store.
type Router struct {
	conns   *ConnTable
	channel *rpcconsumer.Channel
	bridge  pubsub.Bridge
	log     *zap.Logger
}

func NewRouter(conns *ConnTable, channel *rpcconsumer.Channel, bridge pubsub.Bridge, log *zap.Logger) *Router {
	return &Router{conns: conns, channel: channel, bridge: bridge, log: log}
}

// deliver implements the three-step rule for a single recipient: local
// socket write, else cross-gateway publish if the other service says
// they're online elsewhere, else offline mailbox.
func (r *Router) deliver(ctx context.Context, recipient int32, body string) error {
	if conn, ok := r.conns.Lookup(recipient); ok {
		_, err := conn.Write(append([]byte(body), '\n'))
		return err
	}

	var q userservice.QueryReply
	if err := r.channel.CallMethod("UserService.Query", recipient, &userservice.UserIDArgs{ID: recipient}, &q); err != nil {
		return fmt.Errorf("gateway: query user %d: %w", recipient, err)
	}
	if q.Found && q.State == "online" {
		return r.bridge.Publish(ctx, recipient, body)
	}

	var ok messageservice.OKReply
	return r.channel.CallMethod("MessageService.InsertOffline", recipient,
		&messageservice.InsertOfflineArgs{UserID: recipient, Msg: body}, &ok)
}

// RouteOneToOne delivers body (an already-serialized client envelope) from
// "from" to "to".
func (r *Router) RouteOneToOne(ctx context.Context, from, to int32, body string) error {
	return r.deliver(ctx, to, body)
}

// RouteGroup delivers body to every member of groupID except the sender.
func (r *Router) RouteGroup(ctx context.Context, from, groupID int32, body string) error {
	var members relationservice.QueryGroupUsersReply
	err := r.channel.CallMethod("RelationService.QueryGroupUsers", from,
		&relationservice.QueryGroupUsersArgs{UserID: from, GroupID: groupID}, &members)
	if err != nil {
		return fmt.Errorf("gateway: query group %d members: %w", groupID, err)
	}

	var firstErr error
	for _, member := range members.UserIDs {
		if err := r.deliver(ctx, member, body); err != nil && firstErr == nil {
			firstErr = err
			r.log.Error("gateway: group delivery failed",
				zap.Int32("group_id", groupID), zap.Int32("member_id", member), zap.Error(err))
		}
	}
	return firstErr
}
