// Package relationservice exposes the social graph over rpcprovider:
// friend lists, group creation and membership, and the group rosters the
// gateway fans group chat out to.
package relationservice

import (
	"context"

	"github.com/mpchat/meshline/store"
)

type RelationService struct {
	Friends store.FriendStore
	Groups  store.GroupStore
}

func New(friends store.FriendStore, groups store.GroupStore) *RelationService {
	return &RelationService{Friends: friends, Groups: groups}
}

type AddFriendArgs struct {
	UserID   int32
	FriendID int32
}

type OKReply struct{ OK bool }

func (s *RelationService) AddFriend(args *AddFriendArgs, reply *OKReply) error {
	if err := s.Friends.Insert(context.Background(), args.UserID, args.FriendID); err != nil {
		return err
	}
	reply.OK = true
	return nil
}

type UserIDArgs struct{ UserID int32 }

type FriendInfo struct {
	ID    int32
	Name  string
	State string
}

type QueryFriendsReply struct {
	Friends []FriendInfo
}

func (s *RelationService) QueryFriends(args *UserIDArgs, reply *QueryFriendsReply) error {
	users, err := s.Friends.Query(context.Background(), args.UserID)
	if err != nil {
		return err
	}
	for _, u := range users {
		reply.Friends = append(reply.Friends, FriendInfo{ID: u.ID, Name: u.Name, State: u.State})
	}
	return nil
}

type CreateGroupArgs struct {
	UserID int32
	Name   string
	Desc   string
}

type CreateGroupReply struct {
	OK      bool
	GroupID int32
}

func (s *RelationService) CreateGroup(args *CreateGroupArgs, reply *CreateGroupReply) error {
	g := &store.Group{Name: args.Name, Desc: args.Desc}
	if err := s.Groups.CreateGroup(context.Background(), g); err != nil {
		return err
	}
	if err := s.Groups.AddGroup(context.Background(), args.UserID, g.ID, "creator"); err != nil {
		return err
	}
	reply.OK = true
	reply.GroupID = g.ID
	return nil
}

type AddGroupArgs struct {
	UserID  int32
	GroupID int32
}

func (s *RelationService) AddGroup(args *AddGroupArgs, reply *OKReply) error {
	if err := s.Groups.AddGroup(context.Background(), args.UserID, args.GroupID, "normal"); err != nil {
		return err
	}
	reply.OK = true
	return nil
}

type GroupMemberInfo struct {
	ID    int32
	Name  string
	State string
	Role  string
}

type GroupInfo struct {
	ID      int32
	Name    string
	Desc    string
	Members []GroupMemberInfo
}

type QueryGroupsReply struct {
	Groups []GroupInfo
}

func (s *RelationService) QueryGroups(args *UserIDArgs, reply *QueryGroupsReply) error {
	groups, err := s.Groups.QueryGroups(context.Background(), args.UserID)
	if err != nil {
		return err
	}
	for _, g := range groups {
		info := GroupInfo{ID: g.ID, Name: g.Name, Desc: g.Desc}
		for _, m := range g.Members {
			info.Members = append(info.Members, GroupMemberInfo{ID: m.ID, Name: m.Name, State: m.State, Role: m.Role})
		}
		reply.Groups = append(reply.Groups, info)
	}
	return nil
}

type QueryGroupUsersArgs struct {
	UserID  int32
	GroupID int32
}

type QueryGroupUsersReply struct {
	UserIDs []int32
}

// QueryGroupUsers returns groupID's members, excluding the caller: group
// chat never echoes a message back to its sender.
func (s *RelationService) QueryGroupUsers(args *QueryGroupUsersArgs, reply *QueryGroupUsersReply) error {
	ids, err := s.Groups.QueryGroupUsers(context.Background(), args.UserID, args.GroupID)
	if err != nil {
		return err
	}
	reply.UserIDs = ids
	return nil
}
