package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/mihaimyh/goaccess/pkg/access"
)

const testProjectID = "test-project"

// setupFirestoreClient connects to the emulator named by FIRESTORE_EMULATOR_HOST
func setupFirestoreClient(t *testing.T) *firestore.Client {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}

	return client
}

// testCollection returns a unique collection name for each test run
func testCollection(testName string) string {
	return fmt.Sprintf("test_webhook_logs_%s_%d", testName, time.Now().UnixNano())
}

func cleanupFirestore(t *testing.T, client *firestore.Client, collection string) {
	t.Helper()
	ctx := context.Background()

	iter := client.Collection(collection).Documents(ctx)
	bw := client.BulkWriter(ctx)
	for {
		doc, err := iter.Next()
		if err != nil {
			break
		}
		_, _ = bw.Delete(doc.Ref)
	}
	bw.Flush()
}

func TestNew(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("Expected error for nil client")
	}
}

func TestFirestore_InsertAndUpdateWebhookLog(t *testing.T) {
	client := setupFirestoreClient(t)
	defer client.Close()

	collection := testCollection("lifecycle")
	defer cleanupFirestore(t, client, collection)

	s, err := New(client, Config{WebhookLogsCollection: collection})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	log := &access.WebhookLog{
		Event:   "order_approved",
		Payload: []byte(`{"order_status":"paid"}`),
		Status:  access.WebhookLogReceived,
	}
	if err := s.InsertWebhookLog(ctx, log); err != nil {
		t.Fatalf("InsertWebhookLog failed: %v", err)
	}
	if log.ID == "" {
		t.Fatal("Expected ID to be assigned")
	}
	if log.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be assigned")
	}

	got, err := s.GetWebhookLog(ctx, log.ID)
	if err != nil {
		t.Fatalf("GetWebhookLog failed: %v", err)
	}
	if got.Event != "order_approved" || got.Status != access.WebhookLogReceived {
		t.Errorf("Unexpected log %+v", got)
	}
	if string(got.Payload) != `{"order_status":"paid"}` {
		t.Errorf("Unexpected payload %s", got.Payload)
	}

	if err := s.UpdateWebhookLog(ctx, log.ID, access.WebhookLogError, "boom"); err != nil {
		t.Fatalf("UpdateWebhookLog failed: %v", err)
	}
	got, err = s.GetWebhookLog(ctx, log.ID)
	if err != nil {
		t.Fatalf("GetWebhookLog failed: %v", err)
	}
	if got.Status != access.WebhookLogError || got.ErrorMessage != "boom" {
		t.Errorf("Expected error status with message, got %+v", got)
	}

	if err := s.UpdateWebhookLog(ctx, log.ID, access.WebhookLogProcessed, ""); err != nil {
		t.Fatalf("UpdateWebhookLog failed: %v", err)
	}
	got, err = s.GetWebhookLog(ctx, log.ID)
	if err != nil {
		t.Fatalf("GetWebhookLog failed: %v", err)
	}
	if got.Status != access.WebhookLogProcessed || got.ErrorMessage != "" {
		t.Errorf("Expected processed status without message, got %+v", got)
	}
}

func TestFirestore_UpdateUnknownWebhookLog(t *testing.T) {
	client := setupFirestoreClient(t)
	defer client.Close()

	collection := testCollection("unknown")
	defer cleanupFirestore(t, client, collection)

	s, err := New(client, Config{WebhookLogsCollection: collection})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	err = s.UpdateWebhookLog(ctx, "does-not-exist", access.WebhookLogProcessed, "")
	if !errors.Is(err, access.ErrWebhookLogNotFound) {
		t.Errorf("Expected ErrWebhookLogNotFound, got %v", err)
	}
	if _, err := s.GetWebhookLog(ctx, "does-not-exist"); !errors.Is(err, access.ErrWebhookLogNotFound) {
		t.Errorf("Expected ErrWebhookLogNotFound, got %v", err)
	}
}
