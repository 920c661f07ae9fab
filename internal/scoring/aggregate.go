package scoring

import (
	"fmt"

	"github.com/pavelanni/answergrader/internal/model"
)

// Weights are the contributions of the two sub-scores to the final score.
type Weights struct {
	Syntactic float64
	Semantic  float64
}

// Aggregate is the combined score of one answer.
type Aggregate struct {
	SyntacticScore float64 // [0,100]
	SemanticScore  float64 // [0,100], negative similarity stored as 0
	FinalScore     float64 // [0,100]
	Verdict        model.Verdict
}

// Aggregator combines sub-scores into a 0-100 grade and classifies it.
type Aggregator struct {
	weights   Weights
	threshold float64
}

// NewAggregator creates an aggregator from an exam configuration.
func NewAggregator(cfg model.ExamConfig) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid exam config: %w", err)
	}
	return &Aggregator{
		weights:   Weights{Syntactic: cfg.SyntacticWeight, Semantic: cfg.SemanticWeight},
		threshold: cfg.PassThreshold,
	}, nil
}

// Aggregate combines a syntactic similarity in [0,1] and a semantic
// similarity in [-1,1]. Negative semantic similarity contributes nothing.
func (a *Aggregator) Aggregate(syntactic, semantic float64) Aggregate {
	syn := clamp(syntactic, 0, 1)
	sem := clamp(semantic, 0, 1)
	final := clamp((a.weights.Syntactic*syn+a.weights.Semantic*sem)*100, 0, 100)
	return Aggregate{
		SyntacticScore: syn * 100,
		SemanticScore:  sem * 100,
		FinalScore:     final,
		Verdict:        a.Classify(final),
	}
}

// Classify returns pass iff score reaches the threshold (inclusive).
func (a *Aggregator) Classify(score float64) model.Verdict {
	if score >= a.threshold {
		return model.VerdictPass
	}
	return model.VerdictFail
}

// Threshold returns the configured pass threshold.
func (a *Aggregator) Threshold() float64 {
	return a.threshold
}

// Weights returns the configured weights.
func (a *Aggregator) Weights() Weights {
	return a.weights
}
