// Package postgres provides a PostgreSQL implementation of the access.Storage interface.
// Subscription upserts are keyed on the unique kiwify_subscription_id, and a
// background worker deactivates expired access codes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/goaccess/pkg/access"
)

const (
	uniqueViolation  = "23505"
	defaultListLimit = 100

	subscriptionColumns = `id, user_id, email, kiwify_subscription_id, kiwify_customer_id,
		plano, valor, status, data_inicio, data_expiracao, created_at, updated_at`
	accessCodeColumns = `code, user_id, email, expires_at, is_active, created_at`
)

// Storage implements access.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
	logger access.Logger

	// stopCleanup cancels the background cleanup goroutine
	stopCleanup func()
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// AutoMigrate applies the embedded migrations in New
	AutoMigrate bool

	// MigrationsTable is the goose version table (default: "goose_db_version")
	MigrationsTable string

	// Cleanup configuration
	CleanupEnabled  bool
	CleanupInterval time.Duration // How often expired access codes are deactivated

	// Logger is used for structured logging (default: access.NoopLogger)
	Logger access.Logger

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
		MigrationsTable: "goose_db_version",
		CleanupEnabled:  true,
		CleanupInterval: time.Hour,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.MigrationsTable == "" {
		config.MigrationsTable = "goose_db_version"
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}
	if config.Logger == nil {
		config.Logger = &access.NoopLogger{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	// Parse connection string
	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Apply pool settings
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{
		pool:   pool,
		config: config,
		logger: config.Logger,
	}

	if config.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s.stopCleanup = cancel
	if config.CleanupEnabled {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// Close closes the PostgreSQL connection pool and stops background cleanup
func (s *Storage) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks database connectivity
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertSubscription implements access.SubscriptionStore
func (s *Storage) UpsertSubscription(ctx context.Context, sub *access.Subscription) (*access.Subscription, error) {
	if sub == nil || sub.KiwifySubscriptionID == "" {
		return nil, fmt.Errorf("%w: missing external subscription id", access.ErrInvalidSubscription)
	}

	now := s.config.Now().UTC()
	id := sub.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	// user_id is only ever set by the claim step; a redelivery must not unlink it
	row := s.pool.QueryRow(ctx,
		`INSERT INTO assinaturas (`+subscriptionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (kiwify_subscription_id) DO UPDATE SET
				user_id = COALESCE(EXCLUDED.user_id, assinaturas.user_id),
				email = EXCLUDED.email,
				kiwify_customer_id = EXCLUDED.kiwify_customer_id,
				plano = EXCLUDED.plano,
				valor = EXCLUDED.valor,
				status = EXCLUDED.status,
				data_inicio = EXCLUDED.data_inicio,
				data_expiracao = EXCLUDED.data_expiracao,
				updated_at = EXCLUDED.updated_at
			RETURNING `+subscriptionColumns,
		id, sub.UserID, access.NormalizeEmail(sub.Email), sub.KiwifySubscriptionID, sub.KiwifyCustomerID,
		string(sub.Plan), sub.Amount, string(sub.Status), sub.StartDate.UTC(), sub.ExpiresAt, createdAt, now,
	)

	out, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return out, nil
}

// UpdateSubscriptionByExternalID implements access.SubscriptionStore
func (s *Storage) UpdateSubscriptionByExternalID(ctx context.Context, externalID string,
	upd access.SubscriptionUpdate) error {
	var (
		tag pgconn.CommandTag
		err error
		now = s.config.Now().UTC()
	)

	switch {
	case upd.SetExpiresAt:
		tag, err = s.pool.Exec(ctx,
			`UPDATE assinaturas SET
				status = COALESCE(NULLIF($2, ''), status),
				data_expiracao = $3,
				updated_at = $4
			WHERE kiwify_subscription_id = $1`,
			externalID, string(upd.Status), upd.ExpiresAt, now)
	default:
		tag, err = s.pool.Exec(ctx,
			`UPDATE assinaturas SET
				status = COALESCE(NULLIF($2, ''), status),
				updated_at = $3
			WHERE kiwify_subscription_id = $1`,
			externalID, string(upd.Status), now)
	}
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return access.ErrSubscriptionNotFound
	}
	return nil
}

// ClaimSubscriptions implements access.SubscriptionStore
func (s *Storage) ClaimSubscriptions(ctx context.Context, userID, email string) (int, error) {
	email = access.NormalizeEmail(email)
	if userID == "" || email == "" {
		return 0, nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE assinaturas SET user_id = $1, updated_at = $3
			WHERE user_id IS NULL AND email = $2`,
		userID, email, s.config.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to claim subscriptions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// LatestActiveByUserID implements access.SubscriptionStore
func (s *Storage) LatestActiveByUserID(ctx context.Context, userID string) (*access.Subscription, error) {
	return s.latestActive(ctx, "user_id", userID)
}

// LatestActiveByEmail implements access.SubscriptionStore
func (s *Storage) LatestActiveByEmail(ctx context.Context, email string) (*access.Subscription, error) {
	return s.latestActive(ctx, "email", access.NormalizeEmail(email))
}

// latestActive orders by created_at, then id, so ties resolve deterministically
func (s *Storage) latestActive(ctx context.Context, column, value string) (*access.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM assinaturas
			WHERE `+column+` = $1 AND status = $2
			ORDER BY created_at DESC, id DESC
			LIMIT 1`,
		value, string(access.StatusActive))

	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, access.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up subscription by %s: %w", column, err)
	}
	return sub, nil
}

// SetSubscriptionStatus implements access.SubscriptionStore
func (s *Storage) SetSubscriptionStatus(ctx context.Context, id string, status access.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE assinaturas SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), s.config.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set subscription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return access.ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptions implements access.SubscriptionStore
func (s *Storage) ListSubscriptions(ctx context.Context, filter access.SubscriptionFilter) ([]*access.Subscription, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if email := access.NormalizeEmail(filter.Email); email != "" {
		args = append(args, email)
		where = append(where, fmt.Sprintf("strpos(email, $%d) > 0", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	query := `SELECT ` + subscriptionColumns + ` FROM assinaturas`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]*access.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// CountSubscriptionsByStatus implements access.SubscriptionStore
func (s *Storage) CountSubscriptionsByStatus(ctx context.Context) (map[access.Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM assinaturas GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	defer rows.Close()

	counts := make(map[access.Status]int)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan subscription count: %w", err)
		}
		counts[access.Status(status)] = int(n)
	}
	return counts, rows.Err()
}

// GetProfile implements access.ProfileStore
func (s *Storage) GetProfile(ctx context.Context, userID string) (*access.Profile, error) {
	var p access.Profile
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, is_admin, first_name, last_name FROM profiles WHERE id = $1`,
		userID).Scan(&p.ID, &p.Email, &p.IsAdmin, &p.FirstName, &p.LastName)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, access.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// UpsertProfile implements access.ProfileStore
func (s *Storage) UpsertProfile(ctx context.Context, profile *access.Profile) error {
	if profile == nil || profile.ID == "" {
		return fmt.Errorf("invalid profile")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (id, email, is_admin, first_name, last_name)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				email = EXCLUDED.email,
				is_admin = EXCLUDED.is_admin,
				first_name = EXCLUDED.first_name,
				last_name = EXCLUDED.last_name`,
		profile.ID, access.NormalizeEmail(profile.Email), profile.IsAdmin, profile.FirstName, profile.LastName)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// InsertWebhookLog implements access.WebhookLogStore
func (s *Storage) InsertWebhookLog(ctx context.Context, log *access.WebhookLog) error {
	if log == nil {
		return fmt.Errorf("invalid webhook log")
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.config.Now().UTC()
	}

	var payload interface{}
	if len(log.Payload) > 0 {
		payload = string(log.Payload)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_logs (id, evento, payload, status, error_message, created_at)
			VALUES ($1, $2, $3::jsonb, $4, $5, $6)`,
		log.ID, log.Event, payload, string(log.Status), log.ErrorMessage, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert webhook log: %w", err)
	}
	return nil
}

// UpdateWebhookLog implements access.WebhookLogStore
func (s *Storage) UpdateWebhookLog(ctx context.Context, id string, status access.WebhookLogStatus,
	errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_logs SET status = $2, error_message = $3 WHERE id = $1`,
		id, string(status), errorMessage)
	if err != nil {
		return fmt.Errorf("failed to update webhook log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return access.ErrWebhookLogNotFound
	}
	return nil
}

// FindActiveAccessCode implements access.AccessCodeStore
func (s *Storage) FindActiveAccessCode(ctx context.Context, userID string, now time.Time) (*access.AccessCode, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accessCodeColumns+` FROM soph_access_codes
			WHERE user_id = $1 AND is_active AND expires_at > $2
			ORDER BY created_at DESC
			LIMIT 1`,
		userID, now.UTC())

	code, err := scanAccessCode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, access.ErrAccessCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find access code: %w", err)
	}
	return code, nil
}

// InsertAccessCode implements access.AccessCodeStore
func (s *Storage) InsertAccessCode(ctx context.Context, code *access.AccessCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid access code")
	}
	createdAt := code.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.config.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO soph_access_codes (`+accessCodeColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)`,
		code.Code, code.UserID, code.Email, code.ExpiresAt.UTC(), code.IsActive, createdAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return access.ErrAccessCodeExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert access code: %w", err)
	}
	return nil
}

// GetAccessCode implements access.AccessCodeStore
func (s *Storage) GetAccessCode(ctx context.Context, code string) (*access.AccessCode, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accessCodeColumns+` FROM soph_access_codes WHERE code = $1`, code)

	c, err := scanAccessCode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, access.ErrAccessCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access code: %w", err)
	}
	return c, nil
}

// DeactivateExpiredCodes flips is_active off for codes past their expiry.
// Returns the number of codes deactivated.
func (s *Storage) DeactivateExpiredCodes(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE soph_access_codes SET is_active = FALSE WHERE is_active AND expires_at <= $1`,
		s.config.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired codes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// startCleanup runs the periodic sweep until Close cancels ctx
func (s *Storage) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DeactivateExpiredCodes(ctx)
			if err != nil {
				s.logger.Error("access code cleanup failed", access.Field{Key: "error", Value: err.Error()})
				continue
			}
			if n > 0 {
				s.logger.Info("deactivated expired access codes", access.Field{Key: "count", Value: n})
			}
		}
	}
}

func scanSubscription(row pgx.Row) (*access.Subscription, error) {
	var (
		sub    access.Subscription
		plan   string
		status string
	)
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Email,
		&sub.KiwifySubscriptionID,
		&sub.KiwifyCustomerID,
		&plan,
		&sub.Amount,
		&status,
		&sub.StartDate,
		&sub.ExpiresAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Plan = access.Plan(plan)
	sub.Status = access.Status(status)
	return &sub, nil
}

func scanAccessCode(row pgx.Row) (*access.AccessCode, error) {
	var c access.AccessCode
	if err := row.Scan(&c.Code, &c.UserID, &c.Email, &c.ExpiresAt, &c.IsActive, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
