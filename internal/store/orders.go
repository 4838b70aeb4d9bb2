package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"payment-reconciler/internal/apperr"
	"payment-reconciler/internal/models"
)

// GetOrderByID retrieves an order by its full identifier.
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.OrderNotFound(id)
	}
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	return &order, nil
}

// FindOrdersByIDPrefix retrieves orders whose id starts with prefix. Some
// gateways truncate the 36-char id to 16 on outbound requests; the caller
// decides what zero or multiple matches mean. Capped at 3 rows: one match
// resolves, two already proves ambiguity.
func (s *Store) FindOrdersByIDPrefix(ctx context.Context, prefix string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE id::text LIKE $1 || '%' ORDER BY created_at LIMIT 3", prefix)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	return orders, nil
}

// GetOrderByGatewayTransaction retrieves the single order holding a
// (gateway, transaction id) pair.
func (s *Store) GetOrderByGatewayTransaction(ctx context.Context, gateway, txID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE gateway = $1 AND gateway_transaction_id = $2", gateway, txID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.OrderNotFound(txID)
	}
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	return &order, nil
}

// ListPendingOrders retrieves pending orders created after cutoff, oldest
// first, bounded by limit. Orders older than the cutoff are left alone even
// if still pending.
func (s *Store) ListPendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE status = $1 AND created_at >= $2 ORDER BY created_at LIMIT $3",
		models.StatusPending, cutoff, limit)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	return orders, nil
}

// ApplyStatusTransition conditionally moves an order from one status to
// another, updating the gateway linkage in the same write. The WHERE clause
// makes concurrent deliveries race-safe: only one wins, the loser sees
// applied=false and re-reads. The CASE keeps a real gateway-issued
// transaction id from being clobbered by a shorter placeholder.
func (s *Store) ApplyStatusTransition(ctx context.Context, orderID string, from, to models.OrderStatus, gatewayStatus, txID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			status = $3,
			gateway_status = COALESCE(NULLIF($4, ''), gateway_status),
			gateway_transaction_id = CASE
				WHEN $5 = '' THEN gateway_transaction_id
				WHEN char_length(COALESCE(gateway_transaction_id, '')) >= 16 AND char_length($5) < 16
					THEN gateway_transaction_id
				ELSE $5
			END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		orderID, from, to, gatewayStatus, txID)
	if err != nil {
		return false, apperr.Persistence(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence(err)
	}
	return n > 0, nil
}

// UpdateGatewayState refreshes the audit fields without touching status,
// used when a redelivered webhook re-reports a state the order already
// holds. The transaction id guard applies here too.
func (s *Store) UpdateGatewayState(ctx context.Context, orderID, gatewayStatus, txID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			gateway_status = COALESCE(NULLIF($2, ''), gateway_status),
			gateway_transaction_id = CASE
				WHEN $3 = '' THEN gateway_transaction_id
				WHEN char_length(COALESCE(gateway_transaction_id, '')) >= 16 AND char_length($3) < 16
					THEN gateway_transaction_id
				ELSE $3
			END,
			updated_at = NOW()
		WHERE id = $1`,
		orderID, gatewayStatus, txID)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

// SetOrderPaymentGateway records which gateway a charge went through, set
// once at payment initiation.
func (s *Store) SetOrderPaymentGateway(ctx context.Context, orderID, gateway string, method models.PaymentMethod, gatewayStatus, txID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			gateway = $2,
			payment_method = $3,
			gateway_status = COALESCE(NULLIF($4, ''), gateway_status),
			gateway_transaction_id = CASE
				WHEN $5 = '' THEN gateway_transaction_id
				WHEN char_length(COALESCE(gateway_transaction_id, '')) >= 16 AND char_length($5) < 16
					THEN gateway_transaction_id
				ELSE $5
			END,
			updated_at = NOW()
		WHERE id = $1`,
		orderID, gateway, method, gatewayStatus, txID)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

// AppendPaymentLog appends one audit entry. payment_logs rows are never
// updated or deleted.
func (s *Store) AppendPaymentLog(ctx context.Context, log *models.PaymentLog) error {
	query := `
		INSERT INTO payment_logs (order_id, raw_response, parsed_response, success)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := s.db.QueryRowxContext(ctx, query,
		log.OrderID, nullableJSON(log.RawResponse), nullableJSON(log.ParsedResponse), log.Success).
		Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

// GetPaymentLogs retrieves all audit entries for an order, oldest first.
func (s *Store) GetPaymentLogs(ctx context.Context, orderID string) ([]models.PaymentLog, error) {
	var logs []models.PaymentLog
	err := s.db.SelectContext(ctx, &logs,
		"SELECT * FROM payment_logs WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	return logs, nil
}

// LastLoggedTransactionID scrapes the most recent real gateway-issued
// transaction id from the order's payment logs. The sync loop prefers it
// over the truncated local reference: polling by the real id avoids prefix
// collisions on the gateway side.
func (s *Store) LastLoggedTransactionID(ctx context.Context, orderID string) (string, error) {
	var txID string
	err := s.db.GetContext(ctx, &txID, `
		SELECT parsed_response->>'transaction_id'
		FROM payment_logs
		WHERE order_id = $1
		  AND char_length(COALESCE(parsed_response->>'transaction_id', '')) >= 16
		ORDER BY id DESC LIMIT 1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Persistence(err)
	}
	return txID, nil
}

// RecordNotificationResult upserts the last delivery outcome on the
// notification endpoint record.
func (s *Store) RecordNotificationResult(ctx context.Context, url string, httpStatus int, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_endpoints (url, last_status, last_error, updated_at)
		VALUES ($1, NULLIF($2, 0), NULLIF($3, ''), NOW())
		ON CONFLICT (url) DO UPDATE SET
			last_status = NULLIF($2, 0),
			last_error = NULLIF($3, ''),
			updated_at = NOW()`,
		url, httpStatus, lastErr)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

// nullableJSON maps empty raw messages to SQL NULL so jsonb columns stay
// valid.
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
