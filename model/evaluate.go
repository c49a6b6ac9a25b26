package model

import (
	log "github.com/sirupsen/logrus"

	"SecureAgg/internal/params"
	"SecureAgg/pkg/protoerr"
)

// Evaluator scores a model against a validation set the aggregation core
// never sees. Implementations are injected by the embedding system.
type Evaluator interface {
	Evaluate(m Model) (float64, error)
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(m Model) (float64, error)

func (f EvaluatorFunc) Evaluate(m Model) (float64, error) { return f(m) }

// Evaluate runs the injected evaluator and range-checks the returned
// accuracy. Anything outside [0, 1] is a structural failure of the
// evaluation collaborator, never clamped.
func Evaluate(m Model, evaluator Evaluator) (float64, error) {
	if m == nil {
		return 0, protoerr.New(protoerr.Structural, "no model to evaluate")
	}
	if evaluator == nil {
		return 0, protoerr.New(protoerr.Structural, "no evaluator provided")
	}

	accuracy, err := evaluator.Evaluate(m)
	if err != nil {
		return 0, protoerr.Wrap(protoerr.External, err, "model evaluation")
	}
	if accuracy < params.MinAccuracy || accuracy > params.MaxAccuracy {
		return 0, protoerr.New(protoerr.Structural,
			"evaluator returned accuracy %v outside [0, 1]", accuracy)
	}

	log.Infof("model evaluated: accuracy %.6f", accuracy)
	return accuracy, nil
}
