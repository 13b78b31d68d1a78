package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		eventType string
		want      bool
	}{
		{"catch-all matches anything", "*", "deployment.applied", true},
		{"exact literal match", "workorder.completed", "workorder.completed", true},
		{"exact literal mismatch", "workorder.completed", "workorder.failed", false},
		{"trailing wildcard prefix match", "agent.*", "agent.online", true},
		{"trailing wildcard prefix mismatch", "agent.*", "workorder.completed", false},
		{"trailing wildcard matches the bare prefix itself", "agent.*", "agent.", true},
		{"empty pattern only matches empty type", "", "", true},
		{"empty pattern does not match nonempty type", "", "deployment.applied", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesPattern(tt.pattern, tt.eventType))
		})
	}
}

func TestAnyPatternMatches(t *testing.T) {
	tests := []struct {
		name      string
		patterns  []string
		eventType string
		want      bool
	}{
		{"no patterns never matches", nil, "deployment.applied", false},
		{"one of several patterns matches", []string{"workorder.*", "agent.online"}, "agent.online", true},
		{"none of several patterns match", []string{"workorder.*", "agent.online"}, "deployment.applied", false},
		{"catch-all among patterns matches everything", []string{"nope", "*"}, "anything.at.all", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, anyPatternMatches(tt.patterns, tt.eventType))
		})
	}
}

func TestSecurityRelevant_KnownTypes(t *testing.T) {
	for _, eventType := range []string{
		"pak.rotated", "pak.issued", "principal.deleted",
		"agent.deleted", "webhook.registered", "webhook.deleted", "config.reloaded",
	} {
		assert.True(t, securityRelevant[eventType], "expected %q to be security-relevant", eventType)
	}
}

func TestSecurityRelevant_UnknownTypeNotFlagged(t *testing.T) {
	assert.False(t, securityRelevant["deployment.applied"])
}
