package relationservice

import (
	"testing"

	"github.com/mpchat/meshline/store/memstore"
)

func newTestService() *RelationService {
	users := memstore.NewUserStore()
	return New(memstore.NewFriendStore(users), memstore.NewGroupStore(users))
}

func TestAddFriendAndQuery(t *testing.T) {
	s := newTestService()
	var ok OKReply
	if err := s.AddFriend(&AddFriendArgs{UserID: 1, FriendID: 2}, &ok); err != nil || !ok.OK {
		t.Fatalf("AddFriend: %v, %+v", err, ok)
	}

	var reply QueryFriendsReply
	if err := s.QueryFriends(&UserIDArgs{UserID: 1}, &reply); err != nil {
		t.Fatalf("QueryFriends: %v", err)
	}
	if len(reply.Friends) != 0 {
		// memstore's friend store resolves friend ids against its UserStore,
		// which has no user 2, so the friend link exists but resolves to
		// nothing - this asserts that behavior rather than a populated name.
		t.Fatalf("QueryFriends = %+v, want empty since user 2 was never inserted", reply.Friends)
	}
}

func TestCreateGroupAddsCreatorAsMember(t *testing.T) {
	s := newTestService()
	var reply CreateGroupReply
	if err := s.CreateGroup(&CreateGroupArgs{UserID: 1, Name: "g1", Desc: "d"}, &reply); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if !reply.OK || reply.GroupID == 0 {
		t.Fatalf("reply = %+v", reply)
	}

	var groups QueryGroupsReply
	if err := s.QueryGroups(&UserIDArgs{UserID: 1}, &groups); err != nil {
		t.Fatalf("QueryGroups: %v", err)
	}
	if len(groups.Groups) != 1 || groups.Groups[0].Members[0].Role != "creator" {
		t.Fatalf("groups = %+v, want one group with creator role", groups.Groups)
	}
}

func TestQueryGroupUsersExcludesSender(t *testing.T) {
	s := newTestService()
	var created CreateGroupReply
	s.CreateGroup(&CreateGroupArgs{UserID: 1, Name: "g1"}, &created)
	s.AddGroup(&AddGroupArgs{UserID: 2, GroupID: created.GroupID}, &OKReply{})

	var reply QueryGroupUsersReply
	if err := s.QueryGroupUsers(&QueryGroupUsersArgs{UserID: 1, GroupID: created.GroupID}, &reply); err != nil {
		t.Fatalf("QueryGroupUsers: %v", err)
	}
	if len(reply.UserIDs) != 1 || reply.UserIDs[0] != 2 {
		t.Fatalf("QueryGroupUsers = %+v, want [2]", reply.UserIDs)
	}
}
