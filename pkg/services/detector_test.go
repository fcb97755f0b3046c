package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
)

func TestDiffFields(t *testing.T) {
	tests := []struct {
		name   string
		local  models.JSONMap
		server models.JSONMap
		want   []string
	}{
		{
			name:   "differing values in both",
			local:  models.JSONMap{"a": float64(1), "b": "x", "c": true},
			server: models.JSONMap{"a": float64(2), "b": "x", "c": false},
			want:   []string{"a", "c"},
		},
		{
			name:   "field present only on one side is not a conflict",
			local:  models.JSONMap{"a": float64(1), "localOnly": "x"},
			server: models.JSONMap{"a": float64(1), "serverOnly": "y"},
			want:   nil,
		},
		{
			name:   "nested structures compared deeply",
			local:  models.JSONMap{"loc": map[string]interface{}{"lat": 9.1}},
			server: models.JSONMap{"loc": map[string]interface{}{"lat": 9.2}},
			want:   []string{"loc"},
		},
		{
			name:   "identical snapshots",
			local:  models.JSONMap{"a": "same"},
			server: models.JSONMap{"a": "same"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DiffFields(tt.local, tt.server))
		})
	}
}

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		want   models.ConflictSeverity
	}{
		{"protected field is critical", []string{"notes", "casualties"}, models.SeverityCritical},
		{"verification status is critical", []string{"verificationStatus"}, models.SeverityCritical},
		{"severity field is critical", []string{"severity"}, models.SeverityCritical},
		{"six plain fields is high", []string{"a", "b", "c", "d", "e", "f"}, models.SeverityHigh},
		{"three plain fields is medium", []string{"a", "b", "c"}, models.SeverityMedium},
		{"two plain fields is low", []string{"a", "b"}, models.SeverityLow},
		{"no fields is low", nil, models.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySeverity(tt.fields))
		})
	}
}

func TestNewConflict(t *testing.T) {
	detectedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	local := models.JSONMap{"status": "VERIFIED", "notes": "team a"}
	server := models.JSONMap{"status": "DRAFT", "notes": "team a"}

	conflict := NewConflict("entity-3", "ASSESSMENT", local, server, models.ConflictTypeConcurrentEdit, detectedAt)

	require.NotEqual(t, conflict.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.Equal(t, "entity-3", conflict.EntityID)
	assert.Equal(t, models.StringArray{"status"}, conflict.ConflictFields)
	assert.Equal(t, models.SeverityLow, conflict.Severity)
	assert.Equal(t, models.ConflictStatusPending, conflict.Status)
	assert.Equal(t, detectedAt, conflict.DetectedAt)
	assert.Nil(t, conflict.ResolvedAt)
}
