package grpcstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/model"
)

// bearerCreds attaches the session's grant token once it has one.
type bearerCreds struct {
	token  func() string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	tok := b.token()
	if tok == "" {
		return nil, nil
	}
	return map[string]string{"authorization": "Bearer " + tok}, nil
}

func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // dev only
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dial(cfg Config, token func() string) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if cfg.Plaintext {
		creds = insecure.NewCredentials()
	} else {
		var err error
		if creds, err = loadTLS(cfg.CACert, cfg.InsecureSkipVerify); err != nil {
			return nil, err
		}
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithIdleTimeout(0),
	}
	if token != nil {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: token, secure: !cfg.Plaintext}))
	}
	opts = append(opts, cfg.DialOptions...)
	return grpc.NewClient(cfg.Addr, opts...)
}

// waitReady starts connecting and blocks until the channel is Ready or ctx is done.
func waitReady(ctx context.Context, cc *grpc.ClientConn) error {
	cc.Connect()
	for {
		s := cc.GetState()
		switch s {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return fmt.Errorf("%w: connection closed", errs.ErrTransport)
		}
		if !cc.WaitForStateChange(ctx, s) {
			return fmt.Errorf("%w: %v (last state %s)", errs.ErrTransport, ctx.Err(), s)
		}
	}
}

// connState maps channel connectivity to the session state.
func connState(s connectivity.State) model.ConnectionState {
	switch s {
	case connectivity.Idle:
		return model.StateInit
	case connectivity.Connecting:
		return model.StateConnecting
	case connectivity.Ready:
		return model.StateConnected
	case connectivity.TransientFailure, connectivity.Shutdown:
		return model.StateDisconnected
	}
	return model.StateUnknown
}

// fromStatus maps gRPC status codes back to domain sentinels.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = errs.ErrNotFound
	case codes.AlreadyExists:
		sentinel = errs.ErrAlreadyExists
	case codes.FailedPrecondition:
		sentinel = errs.ErrVersionConflict
	case codes.PermissionDenied:
		sentinel = errs.ErrPermissionDenied
	case codes.Unauthenticated:
		sentinel = errs.ErrUnauthorized
	case codes.ResourceExhausted:
		sentinel = errs.ErrRateLimited
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		sentinel = errs.ErrTransport
	default:
		return err
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
