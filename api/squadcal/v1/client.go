package squadcalv1

import (
	"context"

	"google.golang.org/grpc"
)

// SquadCalClient is the client API. Every call uses the JSON content subtype.
type SquadCalClient interface {
	Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error)
	Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error)
	GetThreadDirectory(ctx context.Context, in *GetThreadDirectoryRequest, opts ...grpc.CallOption) (*GetThreadDirectoryResponse, error)
	FetchMessages(ctx context.Context, in *FetchMessagesRequest, opts ...grpc.CallOption) (*FetchMessagesResponse, error)
	FetchMessagesSince(ctx context.Context, in *FetchMessagesSinceRequest, opts ...grpc.CallOption) (*FetchMessagesResponse, error)
	SendTextMessage(ctx context.Context, in *SendTextMessageRequest, opts ...grpc.CallOption) (*SendTextMessageResponse, error)
	SaveEntry(ctx context.Context, in *SaveEntryRequest, opts ...grpc.CallOption) (*SaveEntryResponse, error)
	DeleteEntry(ctx context.Context, in *DeleteEntryRequest, opts ...grpc.CallOption) (*EntryResponse, error)
	RestoreEntry(ctx context.Context, in *RestoreEntryRequest, opts ...grpc.CallOption) (*EntryResponse, error)
	FetchEntries(ctx context.Context, in *FetchEntriesRequest, opts ...grpc.CallOption) (*FetchEntriesResponse, error)
	FetchEntryRevisions(ctx context.Context, in *FetchEntryRevisionsRequest, opts ...grpc.CallOption) (*FetchEntryRevisionsResponse, error)
	CreateThread(ctx context.Context, in *CreateThreadRequest, opts ...grpc.CallOption) (*CreateThreadResponse, error)
	JoinThread(ctx context.Context, in *JoinThreadRequest, opts ...grpc.CallOption) (*ThreadChangeResponse, error)
	LeaveThread(ctx context.Context, in *LeaveThreadRequest, opts ...grpc.CallOption) (*ThreadChangeResponse, error)
	AddMembers(ctx context.Context, in *AddMembersRequest, opts ...grpc.CallOption) (*ThreadChangeResponse, error)
	RemoveMembers(ctx context.Context, in *RemoveMembersRequest, opts ...grpc.CallOption) (*ThreadChangeResponse, error)
	ChangeRole(ctx context.Context, in *ChangeRoleRequest, opts ...grpc.CallOption) (*ThreadChangeResponse, error)
	ChangeThreadSettings(ctx context.Context, in *ChangeThreadSettingsRequest, opts ...grpc.CallOption) (*ThreadChangeResponse, error)
}

type squadCalClient struct {
	cc grpc.ClientConnInterface
}

// NewSquadCalClient wraps a connection.
func NewSquadCalClient(cc grpc.ClientConnInterface) SquadCalClient {
	return &squadCalClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *squadCalClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, "Register", in, opts)
}
func (c *squadCalClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, "Login", in, opts)
}
func (c *squadCalClient) GetThreadDirectory(ctx context.Context, in *GetThreadDirectoryRequest, opts ...grpc.CallOption) (*GetThreadDirectoryResponse, error) {
	return invoke[GetThreadDirectoryResponse](ctx, c.cc, "GetThreadDirectory", in, opts)
}
func (c *squadCalClient) FetchMessages(ctx context.Context, in *FetchMessagesRequest, opts ...grpc.CallOption) (*FetchMessagesResponse, error) {
	return invoke[FetchMessagesResponse](ctx, c.cc, "FetchMessages", in, opts)
}
func (c *squadCalClient) FetchMessagesSince(ctx context.Context, in *FetchMessagesSinceRequest, opts ...grpc.CallOption) (*FetchMessagesResponse, error) {
	return invoke[FetchMessagesResponse](ctx, c.cc, "FetchMessagesSince", in, opts)
}
func (c *squadCalClient) SendTextMessage(ctx context.Context, in *SendTextMessageRequest, opts ...grpc.CallOption) (*SendTextMessageResponse, error) {
	return invoke[SendTextMessageResponse](ctx, c.cc, "SendTextMessage", in, opts)
}
func (c *squadCalClient) SaveEntry(ctx context.Context, in *SaveEntryRequest, opts ...grpc.CallOption) (*SaveEntryResponse, error) {
	return invoke[SaveEntryResponse](ctx, c.cc, "SaveEntry", in, opts)
}
func (c *squadCalClient) DeleteEntry(ctx context.Context, in *DeleteEntryRequest, opts ...grpc.CallOption) (*EntryResponse, error) {
	return invoke[EntryResponse](ctx, c.cc, "DeleteEntry", in, opts)
}
func (c *squadCalClient) RestoreEntry(ctx context.Context, in *RestoreEntryRequest, opts ...grpc.CallOption) (*EntryResponse, error) {
	return invoke[EntryResponse](ctx, c.cc, "RestoreEntry", in, opts)
}
func (c *squadCalClient) FetchEntries(ctx context.Context, in *FetchEntriesRequest, opts ...grpc.CallOption) (*FetchEntriesResponse, error) {
	return invoke[FetchEntriesResponse](ctx, c.cc, "FetchEntries", in, opts)
}
func (c *squadCalClient) FetchEntryRevisions(ctx context.Context, in *FetchEntryRevisionsRequest, opts ...grpc.CallOption) (*FetchEntryRevisionsResponse, error) {
	return invoke[FetchEntryRevisionsResponse](ctx, c.cc, "FetchEntryRevisions", in, opts)
}
func (c *squadCalClient) CreateThread(ctx context.Context, in *CreateThreadRequest, opts ...grpc.CallOption) (*CreateThreadResponse, error) {
	return invoke[CreateThreadResponse](ctx, c.cc, "CreateThread", in, opts)
}
func (c *squadCalClient) JoinThread(ctx context.Context, in *JoinThreadRequest, opts ...grpc.CallOption) (*ThreadChangeResponse, error) {
	return invoke[ThreadChangeResponse](ctx, c.cc, "JoinThread", in, opts)
}
func (c *squadCalClient) LeaveThread(ctx context.Context, in *LeaveThreadRequest, opts ...grpc.CallOption) (*ThreadChangeResponse, error) {
	return invoke[ThreadChangeResponse](ctx, c.cc, "LeaveThread", in, opts)
}
func (c *squadCalClient) AddMembers(ctx context.Context, in *AddMembersRequest, opts ...grpc.CallOption) (*ThreadChangeResponse, error) {
	return invoke[ThreadChangeResponse](ctx, c.cc, "AddMembers", in, opts)
}
func (c *squadCalClient) RemoveMembers(ctx context.Context, in *RemoveMembersRequest, opts ...grpc.CallOption) (*ThreadChangeResponse, error) {
	return invoke[ThreadChangeResponse](ctx, c.cc, "RemoveMembers", in, opts)
}
func (c *squadCalClient) ChangeRole(ctx context.Context, in *ChangeRoleRequest, opts ...grpc.CallOption) (*ThreadChangeResponse, error) {
	return invoke[ThreadChangeResponse](ctx, c.cc, "ChangeRole", in, opts)
}
func (c *squadCalClient) ChangeThreadSettings(ctx context.Context, in *ChangeThreadSettingsRequest, opts ...grpc.CallOption) (*ThreadChangeResponse, error) {
	return invoke[ThreadChangeResponse](ctx, c.cc, "ChangeThreadSettings", in, opts)
}
