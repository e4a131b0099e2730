package main

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/dfs-precac/internal/logging"
)

// eventIDKey carries a driver-chosen event id so journal rows written for
// one radar report or completion can be matched to the driver's own logs.
const eventIDKey = "x-event-id"

// eventIDUnaryServerInterceptor sources the event id from inbound metadata
// and logs each call at debug level.
func eventIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = logging.ContextWithEventID(ctx, firstHeader(md, eventIDKey))
		}
		resp, err := handler(ctx, req)
		base.Debug(ctx, "grpc call", logging.String("method", info.FullMethod), logging.Err(err))
		return resp, err
	}
}

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// withEventID is the HTTP counterpart of eventIDUnaryServerInterceptor.
func withEventID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(eventIDKey); id != "" {
			r = r.WithContext(logging.ContextWithEventID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
