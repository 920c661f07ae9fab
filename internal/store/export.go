package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/answergrader/internal/model"
)

// ExportResults builds export-ready student results from all committed
// attempts. classify assigns the exam-level verdict to each average.
func (s *Store) ExportResults(ctx context.Context, classify func(float64) model.Verdict) ([]model.StudentResult, error) {
	results, err := s.ListResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	questions, err := s.ListQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	byID := make(map[int64]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	out := make([]model.StudentResult, 0, len(results))
	for _, r := range results {
		scores, err := s.ListScores(ctx, r.StudentID)
		if err != nil {
			return nil, fmt.Errorf("list scores for %s: %w", r.StudentID, err)
		}

		var qrs []model.QuestionResult
		for _, sc := range scores {
			q := byID[sc.QuestionID]
			qrs = append(qrs, model.QuestionResult{
				QuestionID:       sc.QuestionID,
				Prompt:           q.Prompt,
				ReferenceAnswer:  q.ReferenceAnswer,
				Answer:           sc.Answer,
				SyntacticScore:   sc.SyntacticScore,
				SemanticScore:    sc.SemanticScore,
				FinalScore:       sc.FinalScore,
				Verdict:          sc.Verdict,
				SemanticFallback: sc.SemanticFallback,
			})
		}

		out = append(out, model.StudentResult{
			StudentID:    r.StudentID,
			AttemptID:    r.AttemptID,
			SubmittedAt:  r.SubmittedAt,
			AverageScore: r.AverageScore,
			Verdict:      classify(r.AverageScore),
			Questions:    qrs,
		})
	}
	return out, nil
}
