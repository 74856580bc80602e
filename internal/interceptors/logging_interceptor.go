// Package interceptors unary-интерцепторы gRPC сервера.
package interceptors

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/Dhoini/runsheet-api/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Logging логирует каждый unary-вызов: метод, код ответа и длительность.
func Logging(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		fields := []interface{}{
			"method", info.FullMethod,
			"code", code.String(),
			"latency_ms", time.Since(start).Milliseconds(),
		}
		switch code {
		case codes.OK, codes.NotFound, codes.Canceled:
			log.Debugw("gRPC request handled", fields...)
		case codes.Internal, codes.Unknown, codes.DataLoss:
			log.Errorw("gRPC request handled", append(fields, "error", err)...)
		default:
			log.Warnw("gRPC request handled", append(fields, "error", err)...)
		}
		return resp, err
	}
}

// Recovery превращает панику обработчика в codes.Internal.
func Recovery(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("gRPC handler panic", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
