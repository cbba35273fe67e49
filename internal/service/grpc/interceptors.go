package grpcsvc

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor пишет строку лога на каждый unary-вызов.
// Серверные ошибки (Internal, Unavailable, Unknown) логируются на уровне warn.
func LoggingInterceptor(logger *log.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		entry := logger.WithFields(log.Fields{
			"method":      info.FullMethod,
			"code":        code.String(),
			"duration_ms": time.Since(started).Milliseconds(),
		})
		switch code {
		case codes.Internal, codes.Unavailable, codes.Unknown, codes.DataLoss:
			entry.WithError(err).Warn("grpc request failed")
		default:
			entry.Debug("grpc request")
		}
		return resp, err
	}
}
