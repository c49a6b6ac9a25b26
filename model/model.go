// Package model is the aggregation core's view of the global model: a
// weight-vector capability interface, the update step W + eta*Delta, an
// injected accuracy evaluator and artifact publication. Training and
// validation data live with external collaborators.
package model

import (
	log "github.com/sirupsen/logrus"

	"SecureAgg/internal/params"
	"SecureAgg/pkg/protoerr"
)

// Model is the minimal capability the aggregation core needs from a global
// model. Adapters for real model backends implement exactly these two
// operations; the core has no opinion on model internals.
type Model interface {
	GetWeights() []float64
	SetWeights(weights []float64) error
}

// VectorModel is the plain in-memory Model used when the model is just its
// weight vector.
type VectorModel struct {
	weights []float64
}

// NewVectorModel copies the initial weights into a fresh model.
func NewVectorModel(weights []float64) *VectorModel {
	w := make([]float64, len(weights))
	copy(w, weights)
	return &VectorModel{weights: w}
}

// GetWeights returns a copy of the current weight vector.
func (m *VectorModel) GetWeights() []float64 {
	w := make([]float64, len(m.weights))
	copy(w, m.weights)
	return w
}

// SetWeights replaces the weight vector.
func (m *VectorModel) SetWeights(weights []float64) error {
	if len(weights) != len(m.weights) {
		return protoerr.New(protoerr.Structural,
			"weight vector length changed: %d != %d", len(weights), len(m.weights))
	}
	w := make([]float64, len(weights))
	copy(w, weights)
	m.weights = w
	return nil
}

// ApplyUpdate performs the global update step W <- W + eta*Delta on the
// model in place. The update dimension must match the model exactly.
func ApplyUpdate(m Model, update []float64, learningRate float64) error {
	if m == nil {
		return protoerr.New(protoerr.Structural, "no model to update")
	}
	if len(update) > params.MaxModelDimension {
		return protoerr.New(protoerr.ProtocolBound,
			"update exceeds maximum model dimension: %d > %d", len(update), params.MaxModelDimension)
	}
	if learningRate == 0 {
		learningRate = params.DefaultLearningRate
	}

	weights := m.GetWeights()
	if len(weights) != len(update) {
		return protoerr.New(protoerr.Structural,
			"model / update dimension mismatch: %d != %d", len(weights), len(update))
	}

	log.Infof("applying model update over %d parameters", len(weights))

	for i := range weights {
		weights[i] += learningRate * update[i]
	}
	return m.SetWeights(weights)
}
