package rules

import (
	"strconv"
	"strings"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
)

// LookupPath resolves a dotted path such as "data.assessmentType" against a
// generic tree of maps, lists and scalars. Numeric segments index into lists.
// A missing segment yields (nil, false); callers treat that as "condition not
// satisfied", never as an error.
func LookupPath(root interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	current := root
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case models.JSONMap:
			v, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = v
		case map[string]interface{}:
			v, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = v
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}

	return current, true
}
