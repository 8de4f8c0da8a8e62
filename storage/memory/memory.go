// Package memory provides an in-memory implementation of the access.Storage interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/goaccess/pkg/access"
)

type subscriptionRow struct {
	sub access.Subscription
	seq int64
}

// Storage implements access.Storage using in-memory maps
type Storage struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscriptionRow // by id
	byExternalID  map[string]string           // kiwify_subscription_id -> id
	profiles      map[string]*access.Profile
	webhookLogs   map[string]*access.WebhookLog
	codes         map[string]*access.AccessCode
	seq           int64
	now           func() time.Time
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		subscriptions: make(map[string]*subscriptionRow),
		byExternalID:  make(map[string]string),
		profiles:      make(map[string]*access.Profile),
		webhookLogs:   make(map[string]*access.WebhookLog),
		codes:         make(map[string]*access.AccessCode),
		now:           time.Now,
	}
}

// WithClock replaces the clock used for created_at/updated_at stamps
func (s *Storage) WithClock(now func() time.Time) *Storage {
	s.now = now
	return s
}

// UpsertSubscription implements access.SubscriptionStore
func (s *Storage) UpsertSubscription(ctx context.Context, sub *access.Subscription) (*access.Subscription, error) {
	if sub == nil || sub.KiwifySubscriptionID == "" {
		return nil, fmt.Errorf("%w: missing external subscription id", access.ErrInvalidSubscription)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	in := copySubscription(sub)
	in.Email = access.NormalizeEmail(in.Email)

	if id, ok := s.byExternalID[in.KiwifySubscriptionID]; ok {
		row := s.subscriptions[id]
		in.ID = row.sub.ID
		in.CreatedAt = row.sub.CreatedAt
		if in.UserID == nil {
			in.UserID = row.sub.UserID
		}
		in.UpdatedAt = now
		row.sub = in
		out := copySubscription(&row.sub)
		return &out, nil
	}

	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now

	s.seq++
	s.subscriptions[in.ID] = &subscriptionRow{sub: in, seq: s.seq}
	s.byExternalID[in.KiwifySubscriptionID] = in.ID

	out := copySubscription(&in)
	return &out, nil
}

// UpdateSubscriptionByExternalID implements access.SubscriptionStore
func (s *Storage) UpdateSubscriptionByExternalID(ctx context.Context, externalID string,
	upd access.SubscriptionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byExternalID[externalID]
	if !ok {
		return access.ErrSubscriptionNotFound
	}
	row := s.subscriptions[id]
	if upd.Status != "" {
		row.sub.Status = upd.Status
	}
	if upd.SetExpiresAt {
		row.sub.ExpiresAt = copyTime(upd.ExpiresAt)
	}
	row.sub.UpdatedAt = s.now().UTC()
	return nil
}

// ClaimSubscriptions implements access.SubscriptionStore
func (s *Storage) ClaimSubscriptions(ctx context.Context, userID, email string) (int, error) {
	email = access.NormalizeEmail(email)
	if userID == "" || email == "" {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := 0
	now := s.now().UTC()
	for _, row := range s.subscriptions {
		if row.sub.UserID == nil && row.sub.Email == email {
			uid := userID
			row.sub.UserID = &uid
			row.sub.UpdatedAt = now
			claimed++
		}
	}
	return claimed, nil
}

// LatestActiveByUserID implements access.SubscriptionStore
func (s *Storage) LatestActiveByUserID(ctx context.Context, userID string) (*access.Subscription, error) {
	return s.latestActive(func(sub *access.Subscription) bool {
		return sub.UserID != nil && *sub.UserID == userID
	})
}

// LatestActiveByEmail implements access.SubscriptionStore
func (s *Storage) LatestActiveByEmail(ctx context.Context, email string) (*access.Subscription, error) {
	email = access.NormalizeEmail(email)
	return s.latestActive(func(sub *access.Subscription) bool {
		return sub.Email == email
	})
}

func (s *Storage) latestActive(match func(*access.Subscription) bool) (*access.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *subscriptionRow
	for _, row := range s.subscriptions {
		if row.sub.Status != access.StatusActive || !match(&row.sub) {
			continue
		}
		if best == nil || newer(row, best) {
			best = row
		}
	}
	if best == nil {
		return nil, access.ErrSubscriptionNotFound
	}
	out := copySubscription(&best.sub)
	return &out, nil
}

// SetSubscriptionStatus implements access.SubscriptionStore
func (s *Storage) SetSubscriptionStatus(ctx context.Context, id string, status access.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.subscriptions[id]
	if !ok {
		return access.ErrSubscriptionNotFound
	}
	row.sub.Status = status
	row.sub.UpdatedAt = s.now().UTC()
	return nil
}

// ListSubscriptions implements access.SubscriptionStore
func (s *Storage) ListSubscriptions(ctx context.Context, filter access.SubscriptionFilter) ([]*access.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email := access.NormalizeEmail(filter.Email)
	rows := make([]*subscriptionRow, 0, len(s.subscriptions))
	for _, row := range s.subscriptions {
		if filter.Status != "" && row.sub.Status != filter.Status {
			continue
		}
		if email != "" && !strings.Contains(row.sub.Email, email) {
			continue
		}
		if filter.UserID != "" && (row.sub.UserID == nil || *row.sub.UserID != filter.UserID) {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return newer(rows[i], rows[j]) })

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]*access.Subscription, len(rows))
	for i, row := range rows {
		sub := copySubscription(&row.sub)
		out[i] = &sub
	}
	return out, nil
}

// CountSubscriptionsByStatus implements access.SubscriptionStore
func (s *Storage) CountSubscriptionsByStatus(ctx context.Context) (map[access.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[access.Status]int)
	for _, row := range s.subscriptions {
		counts[row.sub.Status]++
	}
	return counts, nil
}

// GetProfile implements access.ProfileStore
func (s *Storage) GetProfile(ctx context.Context, userID string) (*access.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, access.ErrProfileNotFound
	}
	pCopy := *p
	return &pCopy, nil
}

// UpsertProfile implements access.ProfileStore
func (s *Storage) UpsertProfile(ctx context.Context, profile *access.Profile) error {
	if profile == nil || profile.ID == "" {
		return fmt.Errorf("invalid profile")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pCopy := *profile
	pCopy.Email = access.NormalizeEmail(pCopy.Email)
	s.profiles[profile.ID] = &pCopy
	return nil
}

// InsertWebhookLog implements access.WebhookLogStore
func (s *Storage) InsertWebhookLog(ctx context.Context, log *access.WebhookLog) error {
	if log == nil {
		return fmt.Errorf("invalid webhook log")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now().UTC()
	}
	logCopy := *log
	logCopy.Payload = append([]byte(nil), log.Payload...)
	s.webhookLogs[log.ID] = &logCopy
	return nil
}

// UpdateWebhookLog implements access.WebhookLogStore
func (s *Storage) UpdateWebhookLog(ctx context.Context, id string, status access.WebhookLogStatus,
	errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.webhookLogs[id]
	if !ok {
		return access.ErrWebhookLogNotFound
	}
	log.Status = status
	log.ErrorMessage = errorMessage
	return nil
}

// WebhookLogs returns a snapshot of the audit trail, oldest first
func (s *Storage) WebhookLogs() []access.WebhookLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]access.WebhookLog, 0, len(s.webhookLogs))
	for _, log := range s.webhookLogs {
		logs = append(logs, *log)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].CreatedAt.Before(logs[j].CreatedAt) })
	return logs
}

// FindActiveAccessCode implements access.AccessCodeStore
func (s *Storage) FindActiveAccessCode(ctx context.Context, userID string, now time.Time) (*access.AccessCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *access.AccessCode
	for _, c := range s.codes {
		if c.UserID != userID || !c.UsableAt(now) {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, access.ErrAccessCodeNotFound
	}
	cCopy := *best
	return &cCopy, nil
}

// InsertAccessCode implements access.AccessCodeStore
func (s *Storage) InsertAccessCode(ctx context.Context, code *access.AccessCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid access code")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return access.ErrAccessCodeExists
	}
	cCopy := *code
	if cCopy.CreatedAt.IsZero() {
		cCopy.CreatedAt = s.now().UTC()
	}
	s.codes[code.Code] = &cCopy
	return nil
}

// CacheAccessCode stores code, replacing any previous row with the same code
func (s *Storage) CacheAccessCode(ctx context.Context, code *access.AccessCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid access code")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cCopy := *code
	s.codes[code.Code] = &cCopy
	return nil
}

// GetAccessCode implements access.AccessCodeStore
func (s *Storage) GetAccessCode(ctx context.Context, code string) (*access.AccessCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, access.ErrAccessCodeNotFound
	}
	cCopy := *c
	return &cCopy, nil
}

// newer orders rows by created_at, then by insertion order
func newer(a, b *subscriptionRow) bool {
	if !a.sub.CreatedAt.Equal(b.sub.CreatedAt) {
		return a.sub.CreatedAt.After(b.sub.CreatedAt)
	}
	return a.seq > b.seq
}

func copySubscription(sub *access.Subscription) access.Subscription {
	out := *sub
	if sub.UserID != nil {
		uid := *sub.UserID
		out.UserID = &uid
	}
	out.ExpiresAt = copyTime(sub.ExpiresAt)
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
