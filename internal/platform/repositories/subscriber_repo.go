package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"hookline/internal/platform/models"
)

var ErrNotFound = errors.New("not found")

// SecretSealer protects subscriber secrets at rest.
type SecretSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type SubscriberRepository struct {
	db     *sql.DB
	sealer SecretSealer
}

func NewSubscriberRepository(db *sql.DB, sealer SecretSealer) *SubscriberRepository {
	return &SubscriberRepository{db: db, sealer: sealer}
}

const subscriberColumns = `id, tenant_id, name, url, secret, event_filter, enabled, headers, max_attempts, base_backoff_ms, created_at, updated_at`

func (r *SubscriberRepository) Create(ctx context.Context, s *models.Subscriber) error {
	s.ID = "wh_" + uuid.New().String()
	if s.TenantID == "" {
		s.TenantID = models.DefaultTenantID
	}
	now := time.Now().Unix()
	s.CreatedAt = now
	s.UpdatedAt = now

	secret, headers, err := r.encode(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscribers (` + subscriberColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.TenantID, s.Name, s.URL, secret, s.EventFilter, s.Enabled, headers,
		s.MaxAttempts, s.BaseBackoff.Milliseconds(), s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *SubscriberRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE tenant_id = ? AND id = ?`
	s, err := r.scan(r.db.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (r *SubscriberRepository) List(ctx context.Context, tenantID string) ([]*models.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE tenant_id = ? ORDER BY created_at DESC, id`
	return r.query(ctx, query, tenantID)
}

func (r *SubscriberRepository) Update(ctx context.Context, s *models.Subscriber) error {
	s.UpdatedAt = time.Now().Unix()

	secret, headers, err := r.encode(s)
	if err != nil {
		return err
	}

	query := `
		UPDATE subscribers
		SET name = ?, url = ?, secret = ?, event_filter = ?, enabled = ?, headers = ?,
		    max_attempts = ?, base_backoff_ms = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		s.Name, s.URL, secret, s.EventFilter, s.Enabled, headers,
		s.MaxAttempts, s.BaseBackoff.Milliseconds(), s.UpdatedAt, s.TenantID, s.ID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (r *SubscriberRepository) Delete(ctx context.Context, tenantID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscribers WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// Match returns the enabled subscribers of tenantID whose filter is eventType
// or the wildcard.
func (r *SubscriberRepository) Match(ctx context.Context, tenantID, eventType string) ([]*models.Subscriber, error) {
	query := `
		SELECT ` + subscriberColumns + `
		FROM subscribers
		WHERE tenant_id = ? AND event_filter IN (?, ?) AND enabled = 1
		ORDER BY created_at, id
	`
	return r.query(ctx, query, tenantID, eventType, models.WildcardFilter)
}

func (r *SubscriberRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subscribers []*models.Subscriber
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		subscribers = append(subscribers, s)
	}
	return subscribers, rows.Err()
}

func (r *SubscriberRepository) scan(row interface {
	Scan(dest ...interface{}) error
}) (*models.Subscriber, error) {
	var s models.Subscriber
	var sealed, headers string
	var backoffMs int64

	err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.URL, &sealed, &s.EventFilter, &s.Enabled,
		&headers, &s.MaxAttempts, &backoffMs, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	s.BaseBackoff = time.Duration(backoffMs) * time.Millisecond
	if headers != "" {
		if err := json.Unmarshal([]byte(headers), &s.Headers); err != nil {
			return nil, fmt.Errorf("decode headers for subscriber %s: %w", s.ID, err)
		}
	}

	s.Secret = sealed
	if r.sealer != nil {
		if s.Secret, err = r.sealer.Open(sealed); err != nil {
			return nil, fmt.Errorf("open secret for subscriber %s: %w", s.ID, err)
		}
	}

	return &s, nil
}

func (r *SubscriberRepository) encode(s *models.Subscriber) (string, string, error) {
	headers := s.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return "", "", err
	}

	secret := s.Secret
	if r.sealer != nil {
		if secret, err = r.sealer.Seal(s.Secret); err != nil {
			return "", "", fmt.Errorf("seal secret: %w", err)
		}
	}
	return secret, string(headersJSON), nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
