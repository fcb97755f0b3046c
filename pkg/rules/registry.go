package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/repository"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/services"
)

// RegistryConfig carries the rule-creation policy. The quota is a policy
// constant with no hard rationale, so it is configurable rather than an
// invariant.
type RegistryConfig struct {
	MaxRulesPerCreator int           `mapstructure:"max_rules_per_creator"`
	QuotaWindow        time.Duration `mapstructure:"quota_window"`
}

// DefaultRegistryConfig returns the default rule-creation policy
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MaxRulesPerCreator: 10,
		QuotaWindow:        time.Hour,
	}
}

// Registry owns the PriorityRule lifecycle: create, list newest-first, and
// toggle activity. Rules are never deleted or edited in place.
type Registry struct {
	store   repository.RuleStore
	config  RegistryConfig
	logger  observability.Logger
	metrics observability.MetricsClient
	nowFn   func() time.Time
}

// NewRegistry creates a rule registry over the given store
func NewRegistry(store repository.RuleStore, config RegistryConfig, logger observability.Logger, metrics observability.MetricsClient) *Registry {
	if config.MaxRulesPerCreator == 0 {
		config.MaxRulesPerCreator = DefaultRegistryConfig().MaxRulesPerCreator
	}
	if config.QuotaWindow == 0 {
		config.QuotaWindow = DefaultRegistryConfig().QuotaWindow
	}

	return &Registry{
		store:   store,
		config:  config,
		logger:  logger,
		metrics: metrics,
		nowFn:   time.Now,
	}
}

// Create validates and persists a new rule, enforcing the per-creator
// rolling-window quota.
func (r *Registry) Create(ctx context.Context, rule *models.PriorityRule) (*models.PriorityRule, error) {
	if err := validateRule(rule); err != nil {
		return nil, err
	}

	now := r.nowFn()

	recent, err := r.store.CountRulesByCreatorSince(ctx, rule.CreatedBy, now.Add(-r.config.QuotaWindow))
	if err != nil {
		return nil, errors.Wrap(err, "failed to count recent rules")
	}
	if recent >= r.config.MaxRulesPerCreator {
		r.metrics.IncrementCounter("priority.rules.rate_limited", 1)
		return nil, services.RateLimitError{
			Key:    rule.CreatedBy,
			Limit:  r.config.MaxRulesPerCreator,
			Window: r.config.QuotaWindow,
		}
	}

	rule.ID = uuid.New()
	rule.CreatedAt = now

	if err := r.store.CreateRule(ctx, rule); err != nil {
		return nil, errors.Wrap(err, "failed to create rule")
	}

	r.logger.Info("Priority rule created", map[string]interface{}{
		"rule_id":     rule.ID,
		"name":        rule.Name,
		"entity_type": rule.EntityType,
		"created_by":  rule.CreatedBy,
	})
	r.metrics.IncrementCounter("priority.rules.created", 1)

	return rule, nil
}

// List returns all rules sorted newest-first
func (r *Registry) List(ctx context.Context) ([]*models.PriorityRule, error) {
	return r.store.ListRules(ctx)
}

// SetActive toggles a rule's activity flag
func (r *Registry) SetActive(ctx context.Context, id uuid.UUID, active bool) (*models.PriorityRule, error) {
	rule, err := r.store.SetRuleActive(ctx, id, active)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, services.ErrRuleNotFound
		}
		return nil, errors.Wrap(err, "failed to toggle rule")
	}

	r.logger.Info("Priority rule toggled", map[string]interface{}{
		"rule_id": id,
		"active":  active,
	})

	return rule, nil
}

func validateRule(rule *models.PriorityRule) error {
	if rule.Name == "" {
		return services.ValidationError{Field: "name", Message: "rule name is required"}
	}
	if !rule.EntityType.Valid() {
		return services.ValidationError{Field: "entityType", Message: fmt.Sprintf("unknown entity type %q", rule.EntityType)}
	}
	if rule.CreatedBy == "" {
		return services.ValidationError{Field: "createdBy", Message: "creator is required"}
	}
	if len(rule.Conditions) == 0 {
		return services.ValidationError{Field: "conditions", Message: "at least one condition is required"}
	}
	if len(rule.Conditions) > models.MaxRuleConditions {
		return services.ValidationError{Field: "conditions", Message: fmt.Sprintf("at most %d conditions are allowed", models.MaxRuleConditions)}
	}
	if rule.PriorityModifier < models.MinPriorityModifier || rule.PriorityModifier > models.MaxPriorityModifier {
		return services.ValidationError{Field: "priorityModifier", Message: "modifier must be between -100 and 100"}
	}

	for i, cond := range rule.Conditions {
		if cond.Field == "" {
			return services.ValidationError{Field: fmt.Sprintf("conditions[%d].field", i), Message: "field path is required"}
		}
		if !cond.Operator.Valid() {
			return services.ValidationError{Field: fmt.Sprintf("conditions[%d].operator", i), Message: fmt.Sprintf("unknown operator %q", cond.Operator)}
		}
		if cond.Modifier < models.MinPriorityModifier || cond.Modifier > models.MaxPriorityModifier {
			return services.ValidationError{Field: fmt.Sprintf("conditions[%d].modifier", i), Message: "modifier must be between -100 and 100"}
		}
	}

	return nil
}
