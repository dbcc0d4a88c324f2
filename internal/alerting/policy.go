// Package alerting decides which scored transactions raise an alert, using
// a CEL expression over the verdict and the transaction.
package alerting

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/spendguard/internal/domain"
	"github.com/opensource-finance/spendguard/internal/features"
)

// DefaultExpression alerts on every flagged transaction.
const DefaultExpression = "is_anomalous"

// Policy is a compiled alert expression. It is safe for concurrent use.
type Policy struct {
	expression string
	program    cel.Program
}

// NewPolicy compiles expression. It must evaluate to a bool.
//
// Available variables: score, is_anomalous, amount, category, vendor,
// hour, day_of_week, speed, model_version.
func NewPolicy(expression string) (*Policy, error) {
	if expression == "" {
		expression = DefaultExpression
	}

	env, err := cel.NewEnv(
		cel.Variable("score", cel.DoubleType),
		cel.Variable("is_anomalous", cel.BoolType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("category", cel.StringType),
		cel.Variable("vendor", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("speed", cel.DoubleType),
		cel.Variable("model_version", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile alert policy: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("alert policy must return bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for alert policy: %w", err)
	}

	return &Policy{expression: expression, program: program}, nil
}

// Expression returns the source expression.
func (p *Policy) Expression() string {
	return p.expression
}

// ShouldAlert evaluates the policy. Hour and day of week are taken in loc.
func (p *Policy) ShouldAlert(result *domain.ScoringResult, tx *domain.Transaction, loc *time.Location) (bool, error) {
	local := tx.Timestamp.In(loc)

	out, _, err := p.program.Eval(map[string]any{
		"score":         result.AnomalyScore,
		"is_anomalous":  result.IsAnomalous,
		"amount":        tx.Amount,
		"category":      tx.Category,
		"vendor":        tx.Vendor,
		"hour":          int64(local.Hour()),
		"day_of_week":   int64(features.Weekday(local)),
		"speed":         tx.Speed(),
		"model_version": result.ModelVersion,
	})
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("alert policy returned %s", out.Type())
	}
	return bool(b), nil
}

// LocalTimeLayout is how alert timestamps are rendered for people.
const LocalTimeLayout = "Jan 02, 2006 at 03:04 PM"

// NewAlert builds the notification payload for a scored transaction.
func NewAlert(result *domain.ScoringResult, tx *domain.Transaction, loc *time.Location) domain.Alert {
	return domain.Alert{
		ID:           result.TransactionID,
		IsFraudulent: result.IsAnomalous,
		AnomalyScore: result.AnomalyScore,
		Amount:       tx.Amount,
		Category:     tx.Category,
		Vendor:       tx.Vendor,
		Timestamp:    tx.Timestamp.UTC(),
		LocalTime:    tx.Timestamp.In(loc).Format(LocalTimeLayout),
		ModelVersion: result.ModelVersion,
	}
}
