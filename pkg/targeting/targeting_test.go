package targeting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabelSet(t *testing.T) {
	set := labelSet(map[string]string{"env": "prod", "region": "us"})
	assert.True(t, set["env=prod"])
	assert.True(t, set["region=us"])
	assert.False(t, set["env=staging"])
	assert.Len(t, set, 2)
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name             string
		stackLabels      []string
		stackAnnotations map[string]string
		agentLabels      map[string]string
		agentAnnotations map[string]string
		want             bool
	}{
		{
			name: "empty requirements match any agent",
			want: true,
		},
		{
			name:        "agent has required literal label",
			stackLabels: []string{"env=prod"},
			agentLabels: map[string]string{"env": "prod"},
			want:        true,
		},
		{
			name:        "agent has the key but the wrong value",
			stackLabels: []string{"env=prod"},
			agentLabels: map[string]string{"env": "staging"},
			want:        false,
		},
		{
			name:        "agent missing required label key",
			stackLabels: []string{"env=prod"},
			agentLabels: map[string]string{"region": "us"},
			want:        false,
		},
		{
			name:        "agent is a superset of required labels",
			stackLabels: []string{"env=prod"},
			agentLabels: map[string]string{"env": "prod", "region": "us"},
			want:        true,
		},
		{
			name:        "multiple required labels all must match",
			stackLabels: []string{"env=prod", "region=us"},
			agentLabels: map[string]string{"env": "prod", "region": "us"},
			want:        true,
		},
		{
			name:        "multiple required labels, one missing",
			stackLabels: []string{"env=prod", "region=us"},
			agentLabels: map[string]string{"env": "prod"},
			want:        false,
		},
		{
			name:             "stack annotation value must match exactly",
			stackAnnotations: map[string]string{"tier": "gold"},
			agentAnnotations: map[string]string{"tier": "gold"},
			want:             true,
		},
		{
			name:             "stack annotation value mismatch fails",
			stackAnnotations: map[string]string{"tier": "gold"},
			agentAnnotations: map[string]string{"tier": "silver"},
			want:             false,
		},
		{
			name:             "stack annotation key missing on agent fails",
			stackAnnotations: map[string]string{"tier": "gold"},
			agentAnnotations: map[string]string{},
			want:             false,
		},
		{
			name:             "both labels and annotations must be satisfied",
			stackLabels:      []string{"env=prod"},
			stackAnnotations: map[string]string{"tier": "gold"},
			agentLabels:      map[string]string{"env": "prod"},
			agentAnnotations: map[string]string{"tier": "gold"},
			want:             true,
		},
		{
			name:             "labels satisfied but annotation fails still denies",
			stackLabels:      []string{"env=prod"},
			stackAnnotations: map[string]string{"tier": "gold"},
			agentLabels:      map[string]string{"env": "prod"},
			agentAnnotations: map[string]string{"tier": "silver"},
			want:             false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matches(tt.stackLabels, tt.stackAnnotations, tt.agentLabels, tt.agentAnnotations)
			assert.Equal(t, tt.want, got)
		})
	}
}
