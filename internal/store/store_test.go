package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQualify(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		table  string
		want   string
	}{
		{"no schema uses bare identifier", "", "stacks", `"stacks"`},
		{"schema-qualified", "tenant_a", "stacks", `"tenant_a"."stacks"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, qualify(tt.schema, tt.table))
		})
	}
}
