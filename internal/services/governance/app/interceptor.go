package server

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	apperrors "github.com/brightward/brightward/internal/platform/errors"
	"github.com/brightward/brightward/internal/platform/errors/i18n"
)

// statusUnaryInterceptor converts domain errors into gRPC statuses with
// structured details: the machine code and metadata for the client, and
// a localized player-facing message. Other errors pass through
// untouched.
func statusUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err == nil {
		return resp, nil
	}
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) {
		return resp, err
	}
	catalog := i18n.GetCatalog(localeFromContext(ctx))
	message := catalog.Format(string(domainErr.Code), domainErr.Metadata)
	return resp, domainErr.ToGRPCStatus(catalog.Locale(), message)
}

// localeFromContext reads the caller's preferred locale from request
// metadata. Absent or unsupported values fall back to the base locale
// in the catalog lookup.
func localeFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get("accept-language"); len(values) > 0 {
		return values[0]
	}
	return ""
}
