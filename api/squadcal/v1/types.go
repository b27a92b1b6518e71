package squadcalv1

// Grant is one resolved capability. Source is "open-visibility", "role" or "ancestor".
type Grant struct {
	Value  bool   `json:"value"`
	Source string `json:"source,omitempty"`
}

// Permissions maps capability names (KNOW_OF, VISIBLE, ...) to grants.
// Every capability is present; denied ones carry Value false.
type Permissions map[string]Grant

type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type RoleInfo struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	IsDefault   bool     `json:"isDefault"`
}

type MemberInfo struct {
	ID          string      `json:"id"`
	Role        int64       `json:"role"`
	Permissions Permissions `json:"permissions"`
}

type CurrentUserInfo struct {
	Role        int64       `json:"role"`
	Permissions Permissions `json:"permissions"`
	Subscribed  bool        `json:"subscribed"`
}

type ThreadInfo struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Color          string          `json:"color,omitempty"`
	Visibility     int             `json:"type"`
	EditRule       int             `json:"editRules"`
	CreationTime   int64           `json:"creationTime"`
	ParentThreadID int64           `json:"parentThreadID,omitempty"`
	CreatorID      string          `json:"creatorID,omitempty"`
	Roles          []RoleInfo      `json:"roles"`
	Members        []MemberInfo    `json:"members"`
	CurrentUser    CurrentUserInfo `json:"currentUser"`
}

// MessageInfo carries a message; Content uses the per-type stored encoding.
type MessageInfo struct {
	ID        int64   `json:"id,omitempty"`
	LocalID   string  `json:"localID,omitempty"`
	ThreadID  int64   `json:"threadID"`
	CreatorID string  `json:"creatorID,omitempty"`
	Time      int64   `json:"time"`
	Type      int     `json:"type"`
	Content   *string `json:"content,omitempty"`
}

type EntryInfo struct {
	ID           int64  `json:"id"`
	ThreadID     int64  `json:"threadID"`
	Day          string `json:"day"`
	Text         string `json:"text"`
	CreatorID    string `json:"creatorID,omitempty"`
	CreationTime int64  `json:"creationTime"`
	LastUpdate   int64  `json:"lastUpdate"`
	Deleted      bool   `json:"deleted"`
}

type RevisionInfo struct {
	ID         int64  `json:"id"`
	EntryID    int64  `json:"entryID"`
	AuthorID   string `json:"authorID,omitempty"`
	Text       string `json:"text"`
	SessionID  string `json:"sessionID"`
	LastUpdate int64  `json:"lastUpdate"`
	Deleted    bool   `json:"deleted"`
}

// ThreadSelection selects the threads where the viewer holds a role and/or
// explicit thread -> cursor pairs (cursor 0 = newest).
type ThreadSelection struct {
	AllJoined bool            `json:"allJoined,omitempty"`
	Cursors   map[int64]int64 `json:"cursors,omitempty"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	UserID string `json:"userID"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"`
	UserID      string `json:"userID"`
	Username    string `json:"username"`
}

type GetThreadDirectoryRequest struct{}

type GetThreadDirectoryResponse struct {
	Threads map[int64]ThreadInfo `json:"threadInfos"`
	Users   map[string]UserInfo  `json:"userInfos"`
}

type FetchMessagesRequest struct {
	Selection ThreadSelection `json:"selection"`
	Limit     int             `json:"limit"`
}

type FetchMessagesSinceRequest struct {
	Selection ThreadSelection `json:"selection"`
	Since     int64           `json:"since"`
	Max       int             `json:"max"`
}

type FetchMessagesResponse struct {
	Messages   []MessageInfo       `json:"rawMessageInfos"`
	Truncation map[int64]string    `json:"truncationStatuses"`
	Users      map[string]UserInfo `json:"userInfos"`
}

type SendTextMessageRequest struct {
	LocalID   string `json:"localID"`
	SessionID string `json:"sessionID,omitempty"`
	ThreadID  int64  `json:"threadID"`
	Text      string `json:"text"`
}

type SendTextMessageResponse struct {
	LocalID string `json:"localID"`
	ID      int64  `json:"id"`
	Time    int64  `json:"time"`
}

type SaveEntryRequest struct {
	EntryID   int64  `json:"entryID,omitempty"`
	LocalID   string `json:"localID,omitempty"`
	ThreadID  int64  `json:"threadID,omitempty"`
	Day       string `json:"date,omitempty"`
	Text      string `json:"text"`
	PrevText  string `json:"prevText"`
	SessionID string `json:"sessionID"`
	Timestamp int64  `json:"timestamp"`
}

type SaveEntryResponse struct {
	LocalID string       `json:"localID,omitempty"`
	EntryID int64        `json:"entryID"`
	Time    int64        `json:"time"`
	Message *MessageInfo `json:"newMessageInfo,omitempty"`
}

type DeleteEntryRequest struct {
	EntryID   int64  `json:"entryID"`
	PrevText  string `json:"prevText"`
	SessionID string `json:"sessionID"`
	Timestamp int64  `json:"timestamp"`
}

type RestoreEntryRequest struct {
	EntryID   int64  `json:"entryID"`
	SessionID string `json:"sessionID"`
}

type EntryResponse struct {
	Entry EntryInfo `json:"entryInfo"`
}

type FetchEntriesRequest struct {
	ThreadIDs      []int64 `json:"threadIDs"`
	From           string  `json:"startDate"`
	To             string  `json:"endDate"`
	IncludeDeleted bool    `json:"includeDeleted,omitempty"`
}

type FetchEntriesResponse struct {
	Entries []EntryInfo `json:"rawEntryInfos"`
}

type FetchEntryRevisionsRequest struct {
	EntryID int64 `json:"entryID"`
}

type FetchEntryRevisionsResponse struct {
	Revisions []RevisionInfo `json:"revisions"`
}

type CreateThreadRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Color          string   `json:"color,omitempty"`
	Visibility     int      `json:"visibilityRules"`
	EditRule       int      `json:"editRules"`
	ParentThreadID int64    `json:"parentThreadID,omitempty"`
	MemberIDs      []string `json:"initialMemberIDs,omitempty"`
}

type CreateThreadResponse struct {
	Thread   ThreadInfo    `json:"newThreadInfo"`
	Messages []MessageInfo `json:"newMessageInfos"`
}

type JoinThreadRequest struct {
	ThreadID int64 `json:"threadID"`
}

type LeaveThreadRequest struct {
	ThreadID int64 `json:"threadID"`
}

type AddMembersRequest struct {
	ThreadID int64    `json:"threadID"`
	UserIDs  []string `json:"userIDs"`
}

type RemoveMembersRequest struct {
	ThreadID int64    `json:"threadID"`
	UserIDs  []string `json:"memberIDs"`
}

type ChangeRoleRequest struct {
	ThreadID int64    `json:"threadID"`
	UserIDs  []string `json:"memberIDs"`
	Role     int64    `json:"role"`
}

type ChangeThreadSettingsRequest struct {
	ThreadID int64  `json:"threadID"`
	Field    string `json:"field"`
	Value    string `json:"value"`
}

// ThreadChangeResponse returns the timeline message a thread mutation recorded.
type ThreadChangeResponse struct {
	Message MessageInfo `json:"newMessageInfo"`
}
