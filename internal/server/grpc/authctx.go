package grpcserver

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/and161185/safe-comments/internal/model"
)

type ctxKey string

const grantKey ctxKey = "sc.grant"

// WithGrant stores the caller's verified grant in context.
func WithGrant(ctx context.Context, g *model.Grant) context.Context {
	return context.WithValue(ctx, grantKey, g)
}

// GrantFromCtx fetches the caller's grant; nil for unregistered callers.
func GrantFromCtx(ctx context.Context) *model.Grant {
	g, _ := ctx.Value(grantKey).(*model.Grant)
	return g
}

var errNoBearer = errors.New("no bearer token")

// bearerTokenFromMD extracts "authorization: Bearer <token>" from incoming metadata.
func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errNoBearer
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			if t := strings.TrimSpace(v[7:]); t != "" {
				return t, nil
			}
		}
	}
	return "", errNoBearer
}
