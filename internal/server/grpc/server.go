// Package grpcserver exposes the SquadCal gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	pb "github.com/and161185/squadcal/api/squadcal/v1"
	"github.com/and161185/squadcal/internal/errs"
	"github.com/and161185/squadcal/internal/metrics"
	"github.com/and161185/squadcal/internal/model"
	"github.com/and161185/squadcal/internal/permission"
	"github.com/and161185/squadcal/internal/service"
)

// Directories builds the per-viewer thread directory.
type Directories interface {
	Build(ctx context.Context, v model.Viewer) (model.Directory, error)
}

// Messages serves message fetches and text sends.
type Messages interface {
	FetchInitial(ctx context.Context, v model.Viewer, sel model.ThreadSelection, limit int) (model.MessagesResult, error)
	FetchSince(ctx context.Context, v model.Viewer, sel model.ThreadSelection, since int64, max int) (model.MessagesResult, error)
	SendText(ctx context.Context, v model.Viewer, threadID int64, localID, sessionID, text string) (model.MessageAck, error)
}

// Entries serves calendar entries.
type Entries interface {
	Save(ctx context.Context, v model.Viewer, in model.SaveEntry) (model.EntryAck, error)
	Delete(ctx context.Context, v model.Viewer, in model.DeleteEntry) (model.Entry, error)
	Restore(ctx context.Context, v model.Viewer, entryID int64, sessionID string) (model.Entry, error)
	Fetch(ctx context.Context, v model.Viewer, q model.EntryQuery) ([]model.Entry, error)
	Revisions(ctx context.Context, v model.Viewer, entryID int64) ([]model.Revision, error)
}

// Threads serves thread mutations.
type Threads interface {
	Create(ctx context.Context, v model.Viewer, nt model.NewThread) (model.Thread, []model.Message, error)
	Join(ctx context.Context, v model.Viewer, threadID int64) (model.Message, error)
	Leave(ctx context.Context, v model.Viewer, threadID int64) (model.Message, error)
	AddMembers(ctx context.Context, v model.Viewer, threadID int64, userIDs []uuid.UUID) (model.Message, error)
	RemoveMembers(ctx context.Context, v model.Viewer, threadID int64, userIDs []uuid.UUID) (model.Message, error)
	ChangeRole(ctx context.Context, v model.Viewer, threadID int64, userIDs []uuid.UUID, roleID int64) (model.Message, error)
	ChangeSettings(ctx context.Context, v model.Viewer, threadID int64, field, value string) (model.Message, error)
}

// Services groups the handlers' dependencies.
type Services struct {
	Auth      service.AuthService
	Directory Directories
	Messages  Messages
	Entries   Entries
	Threads   Threads
}

// Server wires services into gRPC handlers.
type Server struct {
	pb.UnimplementedSquadCalServer
	auth      service.AuthService
	directory Directories
	messages  Messages
	entries   Entries
	threads   Threads
	signKey   []byte
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// New constructs a gRPC server with injected services. m may be nil.
func New(svc Services, signKey []byte, m *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		auth:      svc.Auth,
		directory: svc.Directory,
		messages:  svc.Messages,
		entries:   svc.Entries,
		threads:   svc.Threads,
		signKey:   signKey,
		metrics:   m,
		log:       log,
	}
}

// --- Auth ---

// Register creates a new user account.
func (s *Server) Register(ctx context.Context, req *pb.RegisterRequest) (*pb.RegisterResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username/password")
	}
	userID, err := s.auth.Register(ctx, req.Username, req.Password)
	if err != nil {
		return nil, s.toStatus("register", err)
	}
	return &pb.RegisterResponse{UserID: userID}, nil
}

func remoteIP(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// Login authenticates a user and returns an access token.
func (s *Server) Login(ctx context.Context, req *pb.LoginRequest) (*pb.LoginResponse, error) {
	tok, u, err := s.auth.LoginWithIP(ctx, req.Username, req.Password, remoteIP(ctx))
	if err != nil {
		if errors.Is(err, errs.ErrUnauthorized) {
			return nil, status.Error(codes.Unauthenticated, "bad credentials")
		}
		return nil, s.toStatus("login", err)
	}
	return &pb.LoginResponse{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.ExpiresAt.UnixMilli(),
		UserID:      u.ID.String(),
		Username:    u.Username,
	}, nil
}

// --- viewer resolution ---

var (
	errNoToken      = errors.New("no bearer token")
	errInvalidToken = errors.New("invalid token")
)

// viewer returns the viewer stored by AuthUnary, resolving it from metadata
// when the interceptor is not installed.
func (s *Server) viewer(ctx context.Context) (model.Viewer, error) {
	if v, ok := ViewerFromCtx(ctx); ok {
		return v, nil
	}
	v, err := s.viewerFromMD(ctx)
	if err != nil {
		return model.Viewer{}, status.Error(codes.Unauthenticated, err.Error())
	}
	return v, nil
}

// viewerFromMD maps a missing token to the anonymous viewer and rejects a
// present but invalid one.
func (s *Server) viewerFromMD(ctx context.Context) (model.Viewer, error) {
	id, err := s.userIDFromCtx(ctx)
	switch {
	case errors.Is(err, errNoToken):
		return permission.AnonymousViewer(), nil
	case err != nil:
		return model.Viewer{}, err
	}
	return permission.LoggedIn(id), nil
}

// userIDFromCtx: extract "authorization: Bearer <JWT>", verify HS256, return sub as UUID.
func (s *Server) userIDFromCtx(ctx context.Context) (uuid.UUID, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, errInvalidToken
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return uuid.Nil, errors.New("token expired or not valid yet")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errors.New("bad subject")
	}
	return id, nil
}

// bearerTokenFromMD returns errNoToken when no authorization header is sent
// at all and a different error when one is sent but unusable.
func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errNoToken
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return "", errNoToken
	}
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("malformed authorization header")
}
