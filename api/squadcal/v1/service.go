package squadcalv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "squadcal.v1.SquadCal"

// FullMethod returns "/squadcal.v1.SquadCal/<method>".
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// SquadCalServer is the server API.
type SquadCalServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	GetThreadDirectory(context.Context, *GetThreadDirectoryRequest) (*GetThreadDirectoryResponse, error)
	FetchMessages(context.Context, *FetchMessagesRequest) (*FetchMessagesResponse, error)
	FetchMessagesSince(context.Context, *FetchMessagesSinceRequest) (*FetchMessagesResponse, error)
	SendTextMessage(context.Context, *SendTextMessageRequest) (*SendTextMessageResponse, error)
	SaveEntry(context.Context, *SaveEntryRequest) (*SaveEntryResponse, error)
	DeleteEntry(context.Context, *DeleteEntryRequest) (*EntryResponse, error)
	RestoreEntry(context.Context, *RestoreEntryRequest) (*EntryResponse, error)
	FetchEntries(context.Context, *FetchEntriesRequest) (*FetchEntriesResponse, error)
	FetchEntryRevisions(context.Context, *FetchEntryRevisionsRequest) (*FetchEntryRevisionsResponse, error)
	CreateThread(context.Context, *CreateThreadRequest) (*CreateThreadResponse, error)
	JoinThread(context.Context, *JoinThreadRequest) (*ThreadChangeResponse, error)
	LeaveThread(context.Context, *LeaveThreadRequest) (*ThreadChangeResponse, error)
	AddMembers(context.Context, *AddMembersRequest) (*ThreadChangeResponse, error)
	RemoveMembers(context.Context, *RemoveMembersRequest) (*ThreadChangeResponse, error)
	ChangeRole(context.Context, *ChangeRoleRequest) (*ThreadChangeResponse, error)
	ChangeThreadSettings(context.Context, *ChangeThreadSettingsRequest) (*ThreadChangeResponse, error)
}

// UnimplementedSquadCalServer answers every method with codes.Unimplemented.
// Embed it by value for forward compatibility.
type UnimplementedSquadCalServer struct{}

func unimplemented(m string) error { return status.Errorf(codes.Unimplemented, "method %s not implemented", m) }

func (UnimplementedSquadCalServer) Register(context.Context, *RegisterRequest) (*RegisterResponse, error) {
	return nil, unimplemented("Register")
}
func (UnimplementedSquadCalServer) Login(context.Context, *LoginRequest) (*LoginResponse, error) {
	return nil, unimplemented("Login")
}
func (UnimplementedSquadCalServer) GetThreadDirectory(context.Context, *GetThreadDirectoryRequest) (*GetThreadDirectoryResponse, error) {
	return nil, unimplemented("GetThreadDirectory")
}
func (UnimplementedSquadCalServer) FetchMessages(context.Context, *FetchMessagesRequest) (*FetchMessagesResponse, error) {
	return nil, unimplemented("FetchMessages")
}
func (UnimplementedSquadCalServer) FetchMessagesSince(context.Context, *FetchMessagesSinceRequest) (*FetchMessagesResponse, error) {
	return nil, unimplemented("FetchMessagesSince")
}
func (UnimplementedSquadCalServer) SendTextMessage(context.Context, *SendTextMessageRequest) (*SendTextMessageResponse, error) {
	return nil, unimplemented("SendTextMessage")
}
func (UnimplementedSquadCalServer) SaveEntry(context.Context, *SaveEntryRequest) (*SaveEntryResponse, error) {
	return nil, unimplemented("SaveEntry")
}
func (UnimplementedSquadCalServer) DeleteEntry(context.Context, *DeleteEntryRequest) (*EntryResponse, error) {
	return nil, unimplemented("DeleteEntry")
}
func (UnimplementedSquadCalServer) RestoreEntry(context.Context, *RestoreEntryRequest) (*EntryResponse, error) {
	return nil, unimplemented("RestoreEntry")
}
func (UnimplementedSquadCalServer) FetchEntries(context.Context, *FetchEntriesRequest) (*FetchEntriesResponse, error) {
	return nil, unimplemented("FetchEntries")
}
func (UnimplementedSquadCalServer) FetchEntryRevisions(context.Context, *FetchEntryRevisionsRequest) (*FetchEntryRevisionsResponse, error) {
	return nil, unimplemented("FetchEntryRevisions")
}
func (UnimplementedSquadCalServer) CreateThread(context.Context, *CreateThreadRequest) (*CreateThreadResponse, error) {
	return nil, unimplemented("CreateThread")
}
func (UnimplementedSquadCalServer) JoinThread(context.Context, *JoinThreadRequest) (*ThreadChangeResponse, error) {
	return nil, unimplemented("JoinThread")
}
func (UnimplementedSquadCalServer) LeaveThread(context.Context, *LeaveThreadRequest) (*ThreadChangeResponse, error) {
	return nil, unimplemented("LeaveThread")
}
func (UnimplementedSquadCalServer) AddMembers(context.Context, *AddMembersRequest) (*ThreadChangeResponse, error) {
	return nil, unimplemented("AddMembers")
}
func (UnimplementedSquadCalServer) RemoveMembers(context.Context, *RemoveMembersRequest) (*ThreadChangeResponse, error) {
	return nil, unimplemented("RemoveMembers")
}
func (UnimplementedSquadCalServer) ChangeRole(context.Context, *ChangeRoleRequest) (*ThreadChangeResponse, error) {
	return nil, unimplemented("ChangeRole")
}
func (UnimplementedSquadCalServer) ChangeThreadSettings(context.Context, *ChangeThreadSettingsRequest) (*ThreadChangeResponse, error) {
	return nil, unimplemented("ChangeThreadSettings")
}

func unary[Req, Resp any](name string, call func(SquadCalServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return call(srv.(SquadCalServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SquadCalServer), ctx, req.(*Req))
			})
		},
	}
}

// ServiceDesc describes squadcal.v1.SquadCal for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SquadCalServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", SquadCalServer.Register),
		unary("Login", SquadCalServer.Login),
		unary("GetThreadDirectory", SquadCalServer.GetThreadDirectory),
		unary("FetchMessages", SquadCalServer.FetchMessages),
		unary("FetchMessagesSince", SquadCalServer.FetchMessagesSince),
		unary("SendTextMessage", SquadCalServer.SendTextMessage),
		unary("SaveEntry", SquadCalServer.SaveEntry),
		unary("DeleteEntry", SquadCalServer.DeleteEntry),
		unary("RestoreEntry", SquadCalServer.RestoreEntry),
		unary("FetchEntries", SquadCalServer.FetchEntries),
		unary("FetchEntryRevisions", SquadCalServer.FetchEntryRevisions),
		unary("CreateThread", SquadCalServer.CreateThread),
		unary("JoinThread", SquadCalServer.JoinThread),
		unary("LeaveThread", SquadCalServer.LeaveThread),
		unary("AddMembers", SquadCalServer.AddMembers),
		unary("RemoveMembers", SquadCalServer.RemoveMembers),
		unary("ChangeRole", SquadCalServer.ChangeRole),
		unary("ChangeThreadSettings", SquadCalServer.ChangeThreadSettings),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "squadcal/v1/squadcal.proto",
}

// RegisterSquadCalServer registers srv on s.
func RegisterSquadCalServer(s grpc.ServiceRegistrar, srv SquadCalServer) {
	s.RegisterService(&ServiceDesc, srv)
}
