package services

import (
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
)

// protectedFields are snapshot fields whose divergence always escalates the
// conflict to CRITICAL: losing either side silently would misreport the
// situation on the ground.
var protectedFields = map[string]bool{
	"verificationStatus": true,
	"casualties":         true,
	"severity":           true,
}

// DiffFields returns the names of fields present in both versions with
// differing values, sorted for a stable conflictFields ordering.
func DiffFields(local, server models.JSONMap) []string {
	var fields []string
	for key, localValue := range local {
		serverValue, ok := server[key]
		if !ok {
			continue
		}
		if !reflect.DeepEqual(localValue, serverValue) {
			fields = append(fields, key)
		}
	}
	sort.Strings(fields)
	return fields
}

// ClassifySeverity assigns the detection-time severity. Severity is immutable
// afterward, so this runs exactly once per conflict.
func ClassifySeverity(fields []string) models.ConflictSeverity {
	for _, f := range fields {
		if protectedFields[f] {
			return models.SeverityCritical
		}
	}

	switch {
	case len(fields) > 5:
		return models.SeverityHigh
	case len(fields) > 2:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// NewConflict builds a PENDING conflict record from two divergent snapshots
func NewConflict(entityID, entityType string, local, server models.JSONMap, cause models.ConflictType, detectedAt time.Time) *models.Conflict {
	fields := DiffFields(local, server)

	return &models.Conflict{
		ID:             uuid.New(),
		EntityID:       entityID,
		EntityType:     entityType,
		LocalVersion:   local,
		ServerVersion:  server,
		ConflictFields: fields,
		ConflictType:   cause,
		Severity:       ClassifySeverity(fields),
		Status:         models.ConflictStatusPending,
		DetectedAt:     detectedAt,
	}
}
