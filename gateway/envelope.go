package gateway

// Message ids exchanged over the client-facing gateway socket. These are a
// frozen wire contract: deployed clients depend on the exact numbers, and
// the friend/group operations deliberately share one id between a request
// and its ack.
const (
	LoginMsg        = 1
	LoginMsgAck     = 2
	RegMsg          = 3
	RegMsgAck       = 4
	LoginOutMsg     = 5
	LoginOutMsgAck  = 6
	OneChatMsg      = 7
	OneChatMsgAck   = 8
	AddFriendMsg    = 9
	AddFriendMsgAck = 9
	CreateGroupMsg  = 10
	CreateGroupAck  = 10
	AddGroupMsg     = 11
	AddGroupMsgAck  = 11
	GroupChatMsg    = 12
	GroupChatMsgAck = 13
	ErrorMsg        = 14
)

// Envelope is the top-level shape of every message exchanged with a
// gateway client: msgid selects the handler, the rest of the fields are
// interpreted per msgid.
type Envelope struct {
	MsgID int `json:"msgid"`

	ID        int32  `json:"id,omitempty"`
	Password  string `json:"password,omitempty"`
	Name      string `json:"name,omitempty"`
	State     string `json:"state,omitempty"`
	ToID      int32  `json:"toid,omitempty"`
	FriendID  int32  `json:"friendid,omitempty"`
	GroupID   int32  `json:"groupid,omitempty"`
	GroupName string `json:"groupname,omitempty"`
	GroupDesc string `json:"groupdesc,omitempty"`
	Msg       string `json:"msg,omitempty"`
	Time      string `json:"time,omitempty"`

	Errno  int    `json:"errno,omitempty"`
	Errmsg string `json:"errmsg,omitempty"`

	OfflineMsg []string `json:"offlinemsg,omitempty"`
	Friends    []string `json:"friends,omitempty"`
	Groups     []string `json:"groups,omitempty"`
}

func errorEnvelope(errmsg string) Envelope {
	return Envelope{MsgID: ErrorMsg, Errmsg: errmsg}
}
