// Package grpcserver exposes the store node gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	v1 "github.com/and161185/safe-comments/internal/api/storev1"
	"github.com/and161185/safe-comments/internal/convert"
	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/and161185/safe-comments/internal/service"
)

// Server wires services into gRPC handlers.
type Server struct {
	auth  service.AuthService
	store service.StoreService
}

var _ v1.StoreServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(auth service.AuthService, store service.StoreService) *Server {
	return &Server{auth: auth, store: store}
}

// toStatus maps domain sentinels to gRPC status codes.
func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, errs.ErrVersionConflict):
		return status.Error(codes.FailedPrecondition, "version conflict")
	case errors.Is(err, errs.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, "permission denied")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case strings.HasPrefix(err.Error(), "validation:"):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

// clientHost strips the port so limits apply per host.
func clientHost(ctx context.Context) string {
	addr := peerAddr(ctx)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func address(a v1.Address) (model.Address, error) {
	addr, err := convert.FromWireAddress(a)
	if err != nil {
		return model.Address{}, status.Errorf(codes.InvalidArgument, "bad address: %v", err)
	}
	return addr, nil
}

// --- Accounts ---

// Register creates a new account.
func (s *Server) Register(ctx context.Context, req *v1.RegisterRequest) (*v1.RegisterResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username/password")
	}
	id, err := s.auth.Register(ctx, req.Username, req.Password)
	if err != nil {
		return nil, toStatus("register", err)
	}
	return &v1.RegisterResponse{AccountID: id}, nil
}

// Authorise authenticates the account and issues a grant for the app.
func (s *Server) Authorise(ctx context.Context, req *v1.AuthoriseRequest) (*v1.AuthoriseResponse, error) {
	if req.AppID == "" {
		return nil, status.Error(codes.InvalidArgument, "empty app id")
	}
	containers, err := convert.FromWireContainers(req.Containers)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad containers: %v", err)
	}
	g, err := s.auth.AuthoriseWithIP(ctx, service.AuthoriseRequest{
		Username:     req.Username,
		Password:     req.Password,
		App:          model.AppInfo{ID: req.AppID, Name: req.AppName, Vendor: req.AppVendor},
		Containers:   containers,
		OwnContainer: req.OwnContainer,
	}, clientHost(ctx))
	if err != nil {
		return nil, toStatus("authorise", err)
	}
	return &v1.AuthoriseResponse{
		Token:     g.Token,
		AccountID: g.AccountID.String(),
		KekSalt:   g.KekSalt,
		ExpiresAt: g.ExpiresAt.Unix(),
	}, nil
}

// --- Objects ---

// PutObject creates a public object owned by the caller.
func (s *Server) PutObject(ctx context.Context, req *v1.PutObjectRequest) (*v1.PutObjectResponse, error) {
	addr, err := address(req.Address)
	if err != nil {
		return nil, err
	}
	obj := model.Object{Address: addr, Name: req.Name, Description: req.Description}
	if err := s.store.PutObject(ctx, GrantFromCtx(ctx), obj, convert.FromWireEntries(req.Entries)); err != nil {
		return nil, toStatus("put object", err)
	}
	return &v1.PutObjectResponse{}, nil
}

// ClaimName reserves a public name for the caller's account.
func (s *Server) ClaimName(ctx context.Context, req *v1.ClaimNameRequest) (*v1.ClaimNameResponse, error) {
	if err := s.store.ClaimName(ctx, GrantFromCtx(ctx), req.Name); err != nil {
		return nil, toStatus("claim name", err)
	}
	return &v1.ClaimNameResponse{}, nil
}

// GetEntries returns all entries of an object.
func (s *Server) GetEntries(ctx context.Context, req *v1.GetEntriesRequest) (*v1.GetEntriesResponse, error) {
	addr, err := address(req.Address)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.Entries(ctx, GrantFromCtx(ctx), addr)
	if err != nil {
		return nil, toStatus("get entries", err)
	}
	return &v1.GetEntriesResponse{Entries: convert.ToWireEntries(entries)}, nil
}

// ListKeys returns all keys of an object.
func (s *Server) ListKeys(ctx context.Context, req *v1.ListKeysRequest) (*v1.ListKeysResponse, error) {
	addr, err := address(req.Address)
	if err != nil {
		return nil, err
	}
	keys, err := s.store.Keys(ctx, GrantFromCtx(ctx), addr)
	if err != nil {
		return nil, toStatus("list keys", err)
	}
	return &v1.ListKeysResponse{Keys: keys}, nil
}

// GetValue returns one entry.
func (s *Server) GetValue(ctx context.Context, req *v1.GetValueRequest) (*v1.GetValueResponse, error) {
	addr, err := address(req.Address)
	if err != nil {
		return nil, err
	}
	if len(req.Key) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty key")
	}
	v, err := s.store.Value(ctx, GrantFromCtx(ctx), addr, req.Key)
	if err != nil {
		return nil, toStatus("get value", err)
	}
	return &v1.GetValueResponse{Value: v.Data, Version: v.Version}, nil
}

// Mutate applies an atomic batch of inserts and versioned updates.
func (s *Server) Mutate(ctx context.Context, req *v1.MutateRequest) (*v1.MutateResponse, error) {
	addr, err := address(req.Address)
	if err != nil {
		return nil, err
	}
	ops, err := convert.FromWireOps(req.Ops)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad ops: %v", err)
	}
	if err := s.store.Mutate(ctx, GrantFromCtx(ctx), addr, ops); err != nil {
		return nil, toStatus("mutate", err)
	}
	return &v1.MutateResponse{}, nil
}

// SetPermissions replaces one principal's permissions on an object.
func (s *Server) SetPermissions(ctx context.Context, req *v1.SetPermissionsRequest) (*v1.SetPermissionsResponse, error) {
	addr, err := address(req.Address)
	if err != nil {
		return nil, err
	}
	allow, err := convert.FromWirePermissions(req.Allow)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad permissions: %v", err)
	}
	set := model.PermissionSet{Principal: req.Principal, Allow: allow, Version: req.Version}
	if err := s.store.SetPermissions(ctx, GrantFromCtx(ctx), addr, set); err != nil {
		return nil, toStatus("set permissions", err)
	}
	return &v1.SetPermissionsResponse{}, nil
}
