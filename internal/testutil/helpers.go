package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/outcomeops/outcomeops-analytics/internal/models"
)

// CreateTestAdmin inserts an active admin user.
func CreateTestAdmin(t *testing.T, env *TestEnvironment, email, name string) {
	t.Helper()
	if err := env.DB.UpsertAdminUser(env.Ctx, email, name, true); err != nil {
		t.Fatalf("failed to create test admin %s: %v", email, err)
	}
}

// Notification builds an S3 object-created notification body for keys in
// the test bucket.
func Notification(keys ...string) string {
	body := `{"Records":[`
	for i, k := range keys {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"eventName":"s3:ObjectCreated:Put","s3":{"bucket":{"name":%q},"object":{"key":%q}}}`, TestBucket, k)
	}
	return body + "]}"
}

// Beacon builds a valid pageview beacon for domain.
func Beacon(domain, sessionID, path string, ts time.Time) models.TrackingEvent {
	return models.TrackingEvent{
		SessionID: sessionID,
		EventType: models.EventTypePageview,
		Domain:    domain,
		Path:      path,
		Timestamp: ts.UTC().Format(time.RFC3339),
	}
}
