package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

const (
	// IdempotencyKeyHeader — ключ metadata с идентификатором повторяемого запроса.
	IdempotencyKeyHeader = "idempotency-key"

	idempotencyTTL = 24 * time.Hour
)

type rejectionPayload struct {
	Message string `json:"message"`
}

// placeOnce оформляет заказ не более одного раза на ключ идемпотентности.
// Детерминированный отказ запоминается, после временного сбоя ключ освобождается.
func (s *OrderService) placeOnce(
	ctx context.Context,
	req *orders.CreateOrderRequest,
	place func(context.Context) (orders.PlacedOrderView, error),
) (*orders.PlacedOrderView, error) {
	key := readIdempotencyKey(ctx)
	if key == "" || s.idemRepo == nil {
		view, err := place(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		return &view, nil
	}

	hash, err := buildIdempotencyRequestHash(MethodCreateOrder, req)
	if err != nil {
		s.logger.WithError(err).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.Claim(domain.IdempotencyClaim{
		Key:         key,
		Method:      MethodCreateOrder,
		RequestHash: hash,
		ExpiresAt:   time.Now().UTC().Add(idempotencyTTL),
	})
	if err != nil {
		return s.replay(ctx, err, record)
	}

	view, runErr := place(ctx)
	if runErr != nil {
		s.settleFailure(key, runErr)
		return nil, toStatus(runErr)
	}

	s.complete(key, view)
	return &view, nil
}

// replay отвечает на повтор с уже занятым ключом.
func (s *OrderService) replay(ctx context.Context, claimErr error, record domain.IdempotencyRecord) (*orders.PlacedOrderView, error) {
	switch {
	case errors.Is(claimErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case !errors.Is(claimErr, domain.ErrIdempotencyKeyAlreadyExists):
		s.logger.WithError(claimErr).Warn("failed to claim idempotency key")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	switch record.State {
	case domain.IdempotencyInFlight:
		return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
	case domain.IdempotencyRejected:
		return nil, decodeRejection(record)
	case domain.IdempotencyCompleted:
		return s.replayCompleted(ctx, record)
	default:
		return nil, status.Error(codes.Internal, "unknown idempotency record state")
	}
}

// replayCompleted возвращает сохранённый ответ, подменяя заказ его текущим состоянием:
// между попытками заказ мог быть оплачен или отменён.
func (s *OrderService) replayCompleted(ctx context.Context, record domain.IdempotencyRecord) (*orders.PlacedOrderView, error) {
	var view orders.PlacedOrderView
	if len(record.Response) == 0 {
		return nil, status.Error(codes.Internal, "idempotency cache is empty")
	}
	if err := json.Unmarshal(record.Response, &view); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
		return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
	}
	if record.OrderID == "" || s.orders == nil {
		return &view, nil
	}

	current, err := s.orders.FindOne(ctx, record.OrderID)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"idempotency_key": record.Key,
			"order_id":        record.OrderID,
		}).Warn("failed to refresh replayed order, serving cached view")
		return &view, nil
	}
	view.Order = orders.NewOrderView(current)
	return &view, nil
}

func (s *OrderService) complete(key string, view orders.PlacedOrderView) {
	data, err := json.Marshal(view)
	if err == nil {
		err = s.idemRepo.Complete(key, view.Order.ID, data)
	}
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
}

// settleFailure запоминает отказ, который повторится при том же запросе,
// и освобождает ключ, если повтор может пройти.
func (s *OrderService) settleFailure(key string, runErr error) {
	entry := s.logger.WithField("idempotency_key", key)
	if domain.IsRetryable(runErr) {
		if err := s.idemRepo.Delete(key); err != nil {
			entry.WithError(err).Warn("failed to release idempotency key")
		}
		return
	}

	st := status.Convert(toStatus(runErr))
	payload, err := json.Marshal(rejectionPayload{Message: st.Message()})
	if err != nil {
		entry.WithError(err).Warn("failed to encode idempotency rejection")
		payload = nil
	}
	if err := s.idemRepo.Reject(key, int(st.Code()), payload); err != nil {
		entry.WithError(err).Warn("failed to store idempotency rejection")
	}
}

func decodeRejection(record domain.IdempotencyRecord) error {
	code, ok := grpcCode(record.Code)
	if !ok || code == codes.OK {
		code = codes.Internal
	}

	message := "previous request with the same idempotency key failed"
	if len(record.Response) > 0 {
		var payload rejectionPayload
		if err := json.Unmarshal(record.Response, &payload); err == nil && payload.Message != "" {
			message = payload.Message
		}
	}
	return status.Error(code, message)
}

func grpcCode(value int) (codes.Code, bool) {
	if value < int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true //nolint:gosec // проверено диапазоном выше.
}

func readIdempotencyKey(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(IdempotencyKeyHeader); len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

// buildIdempotencyRequestHash — sha256 от метода и JSON запроса.
func buildIdempotencyRequestHash(method string, req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
