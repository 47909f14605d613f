package repositories

import (
	"context"
	"database/sql"
	"strings"

	"hookline/internal/platform/models"
)

const (
	DefaultDeliveryLimit = 50
	MaxDeliveryLimit     = 500
)

// DeliveryRepository is the append-only ledger of delivery attempts.
type DeliveryRepository struct {
	db *sql.DB
}

func NewDeliveryRepository(db *sql.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Record appends attempts in a single transaction and assigns their ids.
func (r *DeliveryRepository) Record(ctx context.Context, attempts []*models.DeliveryAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO delivery_attempts (
			delivery_id, tenant_id, subscriber_id, event_id, event_type, attempt_number,
			status, status_code, response_body, error_message, duration_ms, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ids := make([]int64, len(attempts))
	for i, a := range attempts {
		var code sql.NullInt64
		if a.StatusCode != nil {
			code = sql.NullInt64{Int64: int64(*a.StatusCode), Valid: true}
		}

		res, err := stmt.ExecContext(ctx,
			a.DeliveryID, a.TenantID, a.SubscriberID, a.EventID, a.EventType, a.AttemptNumber,
			string(a.Status), code, a.ResponseBody, a.ErrorMessage, a.DurationMs, a.CompletedAt,
		)
		if err != nil {
			return err
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for i, a := range attempts {
		a.ID = ids[i]
	}
	return nil
}

// Query returns attempts matching filter, newest first.
func (r *DeliveryRepository) Query(ctx context.Context, filter models.DeliveryFilter, limit int) ([]*models.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = DefaultDeliveryLimit
	}
	if limit > MaxDeliveryLimit {
		limit = MaxDeliveryLimit
	}

	var where []string
	var args []interface{}
	if filter.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.SubscriberID != "" {
		where = append(where, "subscriber_id = ?")
		args = append(args, filter.SubscriberID)
	}
	if filter.EventID != "" {
		where = append(where, "event_id = ?")
		args = append(args, filter.EventID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `
		SELECT id, delivery_id, tenant_id, subscriber_id, event_id, event_type, attempt_number,
		       status, status_code, response_body, error_message, duration_ms, completed_at
		FROM delivery_attempts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []*models.DeliveryAttempt{}
	for rows.Next() {
		var a models.DeliveryAttempt
		var status string
		var code sql.NullInt64

		if err := rows.Scan(&a.ID, &a.DeliveryID, &a.TenantID, &a.SubscriberID, &a.EventID, &a.EventType,
			&a.AttemptNumber, &status, &code, &a.ResponseBody, &a.ErrorMessage, &a.DurationMs, &a.CompletedAt); err != nil {
			return nil, err
		}

		a.Status = models.DeliveryStatus(status)
		if code.Valid {
			c := int(code.Int64)
			a.StatusCode = &c
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}
