package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	idempotencyColumns    = `key, method, request_hash, state, order_id, response, code, expires_at, created_at, updated_at`
)

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт PostgreSQL-хранилище исходов CreateOrder по ключу.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

// Claim занимает ключ одним INSERT ... ON CONFLICT. Просроченная запись
// перезаписывается на месте, живая остаётся нетронутой и возвращается с ошибкой конфликта.
func (r *idempotencyRepository) Claim(claim domain.IdempotencyClaim) (domain.IdempotencyRecord, error) {
	now := time.Now().UTC()
	claim, err := claim.Normalize(now, defaultIdempotencyTTL)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := opContext(context.Background())
	defer cancel()

	record, err := scanIdempotency(r.db.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys (key, method, request_hash, state, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (key) DO UPDATE
		SET method = EXCLUDED.method,
		    request_hash = EXCLUDED.request_hash,
		    state = EXCLUDED.state,
		    order_id = NULL,
		    response = NULL,
		    code = 0,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.expires_at <= EXCLUDED.created_at
		RETURNING `+idempotencyColumns,
		claim.Key, claim.Method, claim.RequestHash, string(domain.IdempotencyInFlight), claim.ExpiresAt, now,
	))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	existing, err := r.Get(claim.Key)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("read claimed idempotency key: %w", err)
	}
	return existing, existing.Conflict(claim)
}

func (r *idempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := opContext(context.Background())
	defer cancel()

	record, err := scanIdempotency(r.db.QueryRowContext(ctx, `SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	return record, nil
}

func (r *idempotencyRepository) Complete(key, orderID string, response []byte) error {
	var order sql.NullString
	if orderID != "" {
		order = sql.NullString{String: orderID, Valid: true}
	}
	return r.exec(key, "complete", `
		UPDATE idempotency_keys
		SET state = $2, order_id = $3, response = $4, code = 0, updated_at = NOW()
		WHERE key = $1
	`, string(domain.IdempotencyCompleted), order, response)
}

func (r *idempotencyRepository) Reject(key string, code int, response []byte) error {
	return r.exec(key, "reject", `
		UPDATE idempotency_keys
		SET state = $2, code = $3, response = $4, updated_at = NOW()
		WHERE key = $1
	`, string(domain.IdempotencyRejected), code, response)
}

func (r *idempotencyRepository) Delete(key string) error {
	return r.exec(key, "delete", `DELETE FROM idempotency_keys WHERE key = $1`)
}

// DeleteExpired удаляет записи с истёкшим сроком; limit<=0 снимает ограничение на размер пачки.
func (r *idempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := opContext(context.Background())
	defer cancel()

	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key
			FROM idempotency_keys
			WHERE expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
	`, before, batch)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return int(affected), nil
}

// exec выполняет запрос по одному ключу; $1 всегда ключ.
func (r *idempotencyRepository) exec(key, op, query string, args ...any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := opContext(context.Background())
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, append([]any{key}, args...)...)
	if err != nil {
		return fmt.Errorf("%s idempotency key: %w", op, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func scanIdempotency(row rowScanner) (domain.IdempotencyRecord, error) {
	var (
		record   domain.IdempotencyRecord
		state    string
		orderID  sql.NullString
		response []byte
	)
	if err := row.Scan(
		&record.Key, &record.Method, &record.RequestHash, &state, &orderID, &response,
		&record.Code, &record.ExpiresAt, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.State = domain.IdempotencyState(state)
	if !record.State.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency state %q for key %s", state, record.Key)
	}
	record.OrderID = orderID.String
	record.Response = append([]byte(nil), response...)
	return record, nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
