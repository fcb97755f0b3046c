// Package rules implements the priority scoring subsystem: a registry of
// coordinator-configured priority rules and a scorer that evaluates them
// against queued sync items.
package rules

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
)

// BaselineScore is the neutral starting score before any rule applies
const BaselineScore = 50

// DefaultReason is the reason attached to an item no rule matched
const DefaultReason = "Default priority"

// RuleSource supplies active rules in stable creation order
type RuleSource interface {
	ListActiveRulesByType(ctx context.Context, entityType models.QueueItemType) ([]*models.PriorityRule, error)
}

// Scorer evaluates priority rules against a queued item's payload and
// produces a clamped 0-100 score with a human-readable justification.
type Scorer struct {
	source  RuleSource
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewScorer creates a scorer backed by the given rule source
func NewScorer(source RuleSource, logger observability.Logger, metrics observability.MetricsClient) *Scorer {
	return &Scorer{
		source:  source,
		logger:  logger,
		metrics: metrics,
	}
}

// Score computes the priority score and reason for one item. Rules are
// applied in creation order and never twice for the same item. A payload
// missing an expected field means the condition is not satisfied, not an
// error; the only error path is the rule source itself failing.
func (s *Scorer) Score(ctx context.Context, item *models.QueueItem) (int, string, error) {
	activeRules, err := s.source.ListActiveRulesByType(ctx, item.Type)
	if err != nil {
		return 0, "", err
	}

	doc := itemDocument(item)

	score := BaselineScore
	var fragments []string

	for _, rule := range activeRules {
		applied, delta, fragment := evaluateRule(rule, doc)
		if !applied {
			continue
		}
		score += delta
		fragments = append(fragments, fragment)
	}

	score = clampScore(score)

	reason := DefaultReason
	if len(fragments) > 0 {
		reason = strings.Join(fragments, "; ")
	}

	s.metrics.IncrementCounterWithLabels("priority.score.computed", 1, map[string]string{
		"type":   string(item.Type),
		"bucket": string(models.PriorityFromScore(score)),
	})

	return score, reason, nil
}

// Apply scores the item and writes the derived fields back onto it
func (s *Scorer) Apply(ctx context.Context, item *models.QueueItem) error {
	score, reason, err := s.Score(ctx, item)
	if err != nil {
		return err
	}
	item.PriorityScore = score
	item.PriorityReason = reason
	item.Priority = models.PriorityFromScore(score)
	return nil
}

// evaluateRule applies one rule to the item document. The rule matches when
// any of its conditions is satisfied; the delta is the rule's modifier plus
// the modifiers of every satisfied condition.
func evaluateRule(rule *models.PriorityRule, doc map[string]interface{}) (bool, int, string) {
	matched := false
	delta := 0
	var satisfied []string

	for _, cond := range rule.Conditions {
		value, ok := LookupPath(doc, cond.Field)
		if !ok {
			continue
		}
		if !conditionSatisfied(cond, value) {
			continue
		}
		matched = true
		delta += cond.Modifier
		satisfied = append(satisfied, fmt.Sprintf("%s %s %v", cond.Field, cond.Operator, cond.Value))
	}

	if !matched {
		return false, 0, ""
	}

	delta += rule.PriorityModifier
	fragment := fmt.Sprintf("Rule '%s' matched (%+d: %s)", rule.Name, delta, strings.Join(satisfied, ", "))
	return true, delta, fragment
}

func conditionSatisfied(cond models.RuleCondition, value interface{}) bool {
	switch cond.Operator {
	case models.OperatorEquals:
		return valuesEqual(value, cond.Value)
	case models.OperatorGreaterThan:
		left, lok := toFloat64(value)
		right, rok := toFloat64(cond.Value)
		return lok && rok && left > right
	case models.OperatorContains:
		return containsValue(value, cond.Value)
	case models.OperatorInArray:
		arr, ok := cond.Value.([]interface{})
		if !ok {
			return false
		}
		for _, candidate := range arr {
			if valuesEqual(value, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// containsValue handles both string containment and list membership
func containsValue(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	case []interface{}:
		for _, elem := range h {
			if valuesEqual(elem, needle) {
				return true
			}
		}
	}
	return false
}

// valuesEqual compares numerically when both sides are numbers, otherwise by
// string representation. JSON decoding yields float64 for every number, so a
// rule value of 3 must equal a payload value of 3.0.
func valuesEqual(left, right interface{}) bool {
	leftNum, leftIsNum := toFloat64(left)
	rightNum, rightIsNum := toFloat64(right)
	if leftIsNum && rightIsNum {
		return leftNum == rightNum
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func toFloat64(val interface{}) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// itemDocument exposes the queue item as a generic tree so rule conditions
// can address both envelope fields ("type", "retryCount") and payload fields
// ("data.assessmentType").
func itemDocument(item *models.QueueItem) map[string]interface{} {
	return map[string]interface{}{
		"id":         item.ID,
		"type":       string(item.Type),
		"action":     string(item.Action),
		"data":       map[string]interface{}(item.Data),
		"retryCount": item.RetryCount,
		"createdAt":  item.CreatedAt,
	}
}
