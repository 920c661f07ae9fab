package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Verdict is the pass/fail classification of a score.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// AttemptState is a student's position in the exam lifecycle.
type AttemptState string

const (
	// StateNotStarted means no scores exist and no sample has been issued.
	StateNotStarted AttemptState = "not_started"
	// StateInProgress means a sample was issued but nothing was committed.
	StateInProgress AttemptState = "in_progress"
	// StateCompleted is terminal: the student's scores exist.
	StateCompleted AttemptState = "completed"
)

// EmbeddingPolicy decides what happens when the semantic scorer cannot
// produce a similarity.
type EmbeddingPolicy string

const (
	// PolicyStrict aborts the whole batch.
	PolicyStrict EmbeddingPolicy = "strict"
	// PolicyLenient scores the affected answers syntactic-only.
	PolicyLenient EmbeddingPolicy = "lenient"
)

var validPolicies = map[EmbeddingPolicy]bool{
	PolicyStrict:  true,
	PolicyLenient: true,
}

// IsValidPolicy checks if an embedding policy name is valid.
func IsValidPolicy(p string) bool {
	return validPolicies[EmbeddingPolicy(p)]
}

// SkipReason explains why a submitted answer was not scored.
type SkipReason string

const (
	SkipEmpty           SkipReason = "empty"
	SkipUnknownQuestion SkipReason = "unknown_question"
	SkipNotInSample     SkipReason = "not_in_sample"
	SkipOverLimit       SkipReason = "over_limit"
)

// Question is an exam question with its reference answer.
type Question struct {
	ID              int64  `json:"id"`
	Prompt          string `json:"prompt"`
	ReferenceAnswer string `json:"reference_answer"`
	Topic           string `json:"topic,omitempty"`
}

// SubmittedAnswer is one student's raw answer to one question.
type SubmittedAnswer struct {
	StudentID  string `json:"student_id"`
	QuestionID int64  `json:"question_id"`
	RawText    string `json:"raw_text"`
}

// QuestionScore is the persisted score of a single answer.
// Sub-scores are scaled to [0,100].
type QuestionScore struct {
	ID               int64     `json:"id"`
	AttemptID        string    `json:"attempt_id"`
	StudentID        string    `json:"student_id"`
	QuestionID       int64     `json:"question_id"`
	Answer           string    `json:"answer"`
	SyntacticScore   float64   `json:"syntactic_score"`
	SemanticScore    float64   `json:"semantic_score"`
	FinalScore       float64   `json:"final_score"`
	Verdict          Verdict   `json:"verdict"`
	SemanticFallback bool      `json:"semantic_fallback,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ExamResult is a student's aggregate grade, derived from their scores.
type ExamResult struct {
	StudentID    string          `json:"student_id"`
	AttemptID    string          `json:"attempt_id"`
	AverageScore float64         `json:"average_score"`
	Verdict      Verdict         `json:"verdict"`
	Graded       int             `json:"graded"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	Scores       []QuestionScore `json:"scores,omitempty"`
}

// SkippedAnswer records an entry of a batch that was not scored.
type SkippedAnswer struct {
	QuestionID int64      `json:"question_id"`
	Reason     SkipReason `json:"reason"`
}

// ExamConfig holds the scoring parameters of an exam.
type ExamConfig struct {
	SampleSize      int             // questions drawn per student
	SyntacticWeight float64         // W_syn
	SemanticWeight  float64         // W_sem
	PassThreshold   float64         // inclusive, on the 0-100 scale
	EmbeddingPolicy EmbeddingPolicy // strict or lenient
}

// DefaultExamConfig returns the stock configuration: 5 questions,
// 0.8 syntactic / 0.2 semantic, pass at 75, strict embeddings.
func DefaultExamConfig() ExamConfig {
	return ExamConfig{
		SampleSize:      5,
		SyntacticWeight: 0.8,
		SemanticWeight:  0.2,
		PassThreshold:   75,
		EmbeddingPolicy: PolicyStrict,
	}
}

const weightTolerance = 1e-9

// Validate reports the first invalid field.
func (c ExamConfig) Validate() error {
	if c.SampleSize < 1 {
		return fmt.Errorf("sample size must be at least 1, got %d", c.SampleSize)
	}
	if c.SyntacticWeight < 0 || c.SyntacticWeight > 1 {
		return fmt.Errorf("syntactic weight must be in [0,1], got %v", c.SyntacticWeight)
	}
	if c.SemanticWeight < 0 || c.SemanticWeight > 1 {
		return fmt.Errorf("semantic weight must be in [0,1], got %v", c.SemanticWeight)
	}
	if sum := c.SyntacticWeight + c.SemanticWeight; math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights must sum to 1, got %v", sum)
	}
	if c.PassThreshold < 0 || c.PassThreshold > 100 {
		return fmt.Errorf("pass threshold must be in [0,100], got %v", c.PassThreshold)
	}
	if !validPolicies[c.EmbeddingPolicy] {
		return errors.New("embedding policy must be strict or lenient, got " + string(c.EmbeddingPolicy))
	}
	return nil
}

// QuestionImport is used for loading questions from JSON.
type QuestionImport struct {
	Prompt          string `json:"prompt"`
	ReferenceAnswer string `json:"reference_answer"`
	Topic           string `json:"topic"`
}
