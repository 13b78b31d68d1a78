package webhook

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/brokkr/broker/internal/store"
)

func TestRedact_OmitsCiphertextFields(t *testing.T) {
	sub := store.WebhookSubscription{
		ID:                   uuid.New(),
		Name:                 "ops-alerts",
		URLCiphertext:        "super-secret-ciphertext",
		AuthHeaderCiphertext: "another-secret",
		EventPatterns:        []string{"workorder.*", "agent.deleted"},
		Enabled:              true,
		MaxRetries:           5,
		TimeoutSeconds:       30,
	}

	view := redact(sub)

	assert.Equal(t, sub.ID, view.ID)
	assert.Equal(t, sub.Name, view.Name)
	assert.Equal(t, sub.EventPatterns, view.EventPatterns)
	assert.Equal(t, sub.Enabled, view.Enabled)
	assert.Equal(t, sub.MaxRetries, view.MaxRetries)
	assert.Equal(t, sub.TimeoutSeconds, view.TimeoutSeconds)
}
