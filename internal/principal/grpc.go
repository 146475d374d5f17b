package principal

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/chatauth/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor resolves the caller from incoming metadata
// ("authorization", "x-user-id", "x-access-key") and stores the principal in
// the handler context. Anonymous calls pass through; methods decide whether
// they need a principal.
func UnaryServerInterceptor(r *Resolver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		p, err := r.Resolve(ctx, Credentials{
			UserID:        first(md, common.UserIDHeaderName),
			AccessKey:     first(md, common.AccessKeyHeaderName),
			Authorization: first(md, common.AuthorizationHeaderName),
		})
		if err != nil {
			return nil, statusError(err)
		}
		return handler(NewContext(ctx, p), req)
	}
}

func first(md metadata.MD, key string) string {
	if values := md.Get(strings.ToLower(key)); len(values) > 0 {
		return values[0]
	}
	return ""
}

func statusError(err error) error {
	switch {
	case errors.Is(err, common.ErrServiceUnavailable):
		return status.Error(codes.Unavailable, "authentication backend unavailable")
	case errors.Is(err, common.ErrMissingNonce):
		return status.Error(codes.InvalidArgument, "missing nonce in service token")
	default:
		return status.Error(codes.Unauthenticated, "unauthorized")
	}
}
