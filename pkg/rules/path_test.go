package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
)

func TestLookupPath(t *testing.T) {
	doc := map[string]interface{}{
		"type": "ASSESSMENT",
		"data": map[string]interface{}{
			"assessmentType": "HEALTH",
			"site": map[string]interface{}{
				"region": "NE",
			},
			"photos": []interface{}{
				map[string]interface{}{"size": float64(2048)},
			},
		},
	}

	tests := []struct {
		path  string
		want  interface{}
		found bool
	}{
		{"type", "ASSESSMENT", true},
		{"data.assessmentType", "HEALTH", true},
		{"data.site.region", "NE", true},
		{"data.photos.0.size", float64(2048), true},
		{"data.photos.1.size", nil, false},
		{"data.photos.x", nil, false},
		{"data.missing", nil, false},
		{"missing.deeper", nil, false},
		{"data.assessmentType.deeper", nil, false},
		{"", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, found := LookupPath(doc, tt.path)
			assert.Equal(t, tt.found, found)
			if tt.found {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestLookupPathJSONMapRoot(t *testing.T) {
	doc := models.JSONMap{"data": models.JSONMap{"severity": "HIGH"}}

	got, found := LookupPath(doc, "data.severity")
	assert.True(t, found)
	assert.Equal(t, "HIGH", got)
}
