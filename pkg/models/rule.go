package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RuleOperator is the comparison a rule condition performs
type RuleOperator string

// Rule condition operators
const (
	OperatorEquals      RuleOperator = "EQUALS"
	OperatorGreaterThan RuleOperator = "GREATER_THAN"
	OperatorContains    RuleOperator = "CONTAINS"
	OperatorInArray     RuleOperator = "IN_ARRAY"
)

// Valid reports whether the operator is a known value
func (o RuleOperator) Valid() bool {
	switch o {
	case OperatorEquals, OperatorGreaterThan, OperatorContains, OperatorInArray:
		return true
	}
	return false
}

// RuleCondition compares one dotted-path payload field against a value.
// Modifier is an additional score adjustment applied when the condition
// itself is satisfied, on top of the rule's PriorityModifier.
type RuleCondition struct {
	Field    string       `json:"field"`
	Operator RuleOperator `json:"operator"`
	Value    interface{}  `json:"value"`
	Modifier int          `json:"modifier"`
}

// RuleConditions is a []RuleCondition stored as a JSON column
type RuleConditions []RuleCondition

// Value implements driver.Valuer for RuleConditions
func (c RuleConditions) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner for RuleConditions
func (c *RuleConditions) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*[]RuleCondition)(c))
	case string:
		return json.Unmarshal([]byte(v), (*[]RuleCondition)(c))
	default:
		return fmt.Errorf("unsupported scan type for RuleConditions: %T", value)
	}
}

// PriorityRule is a configured condition set that adjusts an item's priority
// score when matched. Rules are toggled inactive rather than deleted and are
// never mutated in place after creation except for the activity flag.
type PriorityRule struct {
	ID               uuid.UUID      `json:"id" db:"id"`
	Name             string         `json:"name" db:"name"`
	EntityType       QueueItemType  `json:"entityType" db:"entity_type"`
	Conditions       RuleConditions `json:"conditions" db:"conditions"`
	PriorityModifier int            `json:"priorityModifier" db:"priority_modifier"`
	IsActive         bool           `json:"isActive" db:"is_active"`
	CreatedBy        string         `json:"createdBy" db:"created_by"`
	CreatedAt        time.Time      `json:"createdAt" db:"created_at"`
}

// Rule shape limits
const (
	MaxRuleConditions   = 5
	MinPriorityModifier = -100
	MaxPriorityModifier = 100
)
