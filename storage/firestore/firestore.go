// Package firestore provides a Firestore implementation of access.WebhookLogStore,
// keeping the webhook audit trail outside the relational database.
package firestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/goaccess/pkg/access"
)

// Storage implements access.WebhookLogStore using Google Cloud Firestore
type Storage struct {
	client         *firestore.Client
	logsCollection string
	now            func() time.Time
}

// Config holds Firestore storage configuration
type Config struct {
	// WebhookLogsCollection is the Firestore collection for the webhook audit trail
	// Default: "webhook_logs"
	WebhookLogsCollection string

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.WebhookLogsCollection == "" {
		config.WebhookLogsCollection = "webhook_logs"
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Storage{
		client:         client,
		logsCollection: config.WebhookLogsCollection,
		now:            config.Now,
	}, nil
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
		log.CreatedAt = s.now().UTC()
	}
	if log.Status == "" {
		log.Status = access.WebhookLogReceived
	}

	// Payload is stored verbatim as a JSON string
	data := map[string]interface{}{
		"evento":    log.Event,
		"payload":   string(log.Payload),
		"status":    string(log.Status),
		"createdAt": log.CreatedAt,
	}
	if log.ErrorMessage != "" {
		data["errorMessage"] = log.ErrorMessage
	}

	if _, err := s.client.Collection(s.logsCollection).Doc(log.ID).Create(ctx, data); err != nil {
		return fmt.Errorf("failed to insert webhook log: %w", err)
	}
	return nil
}

// UpdateWebhookLog implements access.WebhookLogStore
func (s *Storage) UpdateWebhookLog(ctx context.Context, id string, logStatus access.WebhookLogStatus,
	errorMessage string) error {
	if id == "" {
		return access.ErrWebhookLogNotFound
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(logStatus)},
		{Path: "updatedAt", Value: s.now().UTC()},
	}
	if errorMessage != "" {
		updates = append(updates, firestore.Update{Path: "errorMessage", Value: errorMessage})
	} else {
		updates = append(updates, firestore.Update{Path: "errorMessage", Value: firestore.Delete})
	}

	_, err := s.client.Collection(s.logsCollection).Doc(id).Update(ctx, updates)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return access.ErrWebhookLogNotFound
		}
		return fmt.Errorf("failed to update webhook log: %w", err)
	}
	return nil
}

// GetWebhookLog returns a single audit row.
// Returns access.ErrWebhookLogNotFound for unknown ids.
func (s *Storage) GetWebhookLog(ctx context.Context, id string) (*access.WebhookLog, error) {
	snap, err := s.client.Collection(s.logsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, access.ErrWebhookLogNotFound
		}
		return nil, fmt.Errorf("failed to get webhook log: %w", err)
	}
	if !snap.Exists() {
		return nil, access.ErrWebhookLogNotFound
	}

	data := snap.Data()
	log := &access.WebhookLog{
		ID:           id,
		Event:        getString(data, "evento"),
		Status:       access.WebhookLogStatus(getString(data, "status")),
		ErrorMessage: getString(data, "errorMessage"),
		CreatedAt:    getTime(data, "createdAt"),
	}
	if payload := getString(data, "payload"); payload != "" {
		log.Payload = json.RawMessage(payload)
	}
	return log, nil
}

// Helper functions

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
