package model

import "time"

// ExamExport is the top-level JSON structure for exam result export.
type ExamExport struct {
	ExamID   string          `json:"exam_id"`
	Subject  string          `json:"subject"`
	Date     string          `json:"date"`
	Config   ExportConfig    `json:"config"`
	Results  []StudentResult `json:"results"`
	Exported time.Time       `json:"exported_at"`
}

// ExportConfig records the scoring parameters the results were produced with.
type ExportConfig struct {
	SyntacticWeight float64         `json:"weight_syntactic"`
	SemanticWeight  float64         `json:"weight_semantic"`
	PassThreshold   float64         `json:"pass_threshold"`
	EmbeddingPolicy EmbeddingPolicy `json:"embedding_policy"`
}

// StudentResult holds one student's graded attempt for export.
type StudentResult struct {
	StudentID    string           `json:"student_id"`
	AttemptID    string           `json:"attempt_id"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	AverageScore float64          `json:"average_score"`
	Verdict      Verdict          `json:"verdict"`
	Questions    []QuestionResult `json:"questions"`
}

// QuestionResult holds per-question data for export.
type QuestionResult struct {
	QuestionID       int64   `json:"question_id"`
	Prompt           string  `json:"prompt"`
	ReferenceAnswer  string  `json:"reference_answer"`
	Answer           string  `json:"answer"`
	SyntacticScore   float64 `json:"syntactic_score"`
	SemanticScore    float64 `json:"semantic_score"`
	FinalScore       float64 `json:"final_score"`
	Verdict          Verdict `json:"verdict"`
	SemanticFallback bool    `json:"semantic_fallback,omitempty"`
}
