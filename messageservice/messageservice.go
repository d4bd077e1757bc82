// Package messageservice exposes the offline mailbox over rpcprovider:
// messages addressed to a user nobody could deliver to wait here until
// their next login drains them.
package messageservice

import (
	"context"

	"github.com/mpchat/meshline/store"
)

type MessageService struct {
	Mailbox store.OfflineMailboxStore
}

func New(mailbox store.OfflineMailboxStore) *MessageService {
	return &MessageService{Mailbox: mailbox}
}

type UserIDArgs struct{ UserID int32 }

type OKReply struct{ OK bool }

type InsertOfflineArgs struct {
	UserID int32
	Msg    string
}

func (s *MessageService) InsertOffline(args *InsertOfflineArgs, reply *OKReply) error {
	if err := s.Mailbox.Insert(context.Background(), args.UserID, args.Msg); err != nil {
		return err
	}
	reply.OK = true
	return nil
}

type QueryOfflineReply struct {
	Messages []string
}

func (s *MessageService) QueryOffline(args *UserIDArgs, reply *QueryOfflineReply) error {
	msgs, err := s.Mailbox.Query(context.Background(), args.UserID)
	if err != nil {
		return err
	}
	reply.Messages = msgs
	return nil
}

func (s *MessageService) RemoveOffline(args *UserIDArgs, reply *OKReply) error {
	if err := s.Mailbox.Remove(context.Background(), args.UserID); err != nil {
		return err
	}
	reply.OK = true
	return nil
}
