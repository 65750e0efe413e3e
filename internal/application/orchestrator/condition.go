package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
)

// AlertRule raises an alert when Expression evaluates to true against the
// statistics parameters, e.g. "failedTransactions > 10".
type AlertRule struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
	Severity   string `yaml:"severity" json:"severity"`
	Message    string `yaml:"message" json:"message"`
}

// DefaultAlertRules are the thresholds used when none are configured.
func DefaultAlertRules() []AlertRule {
	return []AlertRule{
		{Name: "failed-transactions", Expression: "failedTransactions > 10", Severity: "warning", Message: "high number of failed transactions"},
		{Name: "failed-events", Expression: "failedEvents > 5", Severity: "warning", Message: "high number of failed events"},
		{Name: "expiring-rewards", Expression: "expiringRewards > 0", Severity: "info", Message: "rewards expire within 7 days"},
	}
}

// Alert is a rule that fired.
type Alert struct {
	Rule       string             `json:"rule"`
	Severity   string             `json:"severity"`
	Message    string             `json:"message"`
	Expression string             `json:"expression"`
	Values     map[string]float64 `json:"values"`
}

// CompileRules parses every rule expression up front so a bad rule fails at startup.
func CompileRules(rules []AlertRule) (map[string]*govaluate.EvaluableExpression, error) {
	out := make(map[string]*govaluate.EvaluableExpression, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.Name) == "" {
			return nil, errors.New("alert rule without a name")
		}
		if _, dup := out[r.Name]; dup {
			return nil, fmt.Errorf("alert rule %s defined twice", r.Name)
		}
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("alert rule %s: %w", r.Name, err)
		}
		out[r.Name] = expr
	}
	return out, nil
}

// EvaluateCondition evaluates a compiled rule against numeric parameters.
func EvaluateCondition(expr *govaluate.EvaluableExpression, params map[string]float64) (bool, error) {
	args := make(map[string]interface{}, len(params))
	for k, v := range params {
		args[k] = v
	}
	result, err := expr.Evaluate(args)
	if err != nil {
		return false, err
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	default:
		return false, errors.New("condition did not evaluate to boolean")
	}
}

// referenced keeps the parameters an expression mentions, for the alert payload.
func referenced(expr *govaluate.EvaluableExpression, params map[string]float64) map[string]float64 {
	out := map[string]float64{}
	for _, name := range expr.Vars() {
		if v, ok := params[name]; ok {
			out[name] = v
		}
	}
	return out
}
