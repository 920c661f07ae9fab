package store

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/pavelanni/answergrader/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestQuestion(t *testing.T, s *Store, prompt, topic string) int64 {
	t.Helper()
	id, err := s.InsertQuestion(context.Background(), model.Question{
		Prompt:          prompt,
		ReferenceAnswer: "reference for " + prompt,
		Topic:           topic,
	})
	if err != nil {
		t.Fatalf("insertTestQuestion: %v", err)
	}
	return id
}

func testScores(qIDs []int64, finals ...float64) []model.QuestionScore {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	scores := make([]model.QuestionScore, len(qIDs))
	for i, id := range qIDs {
		v := model.VerdictFail
		if finals[i] >= 75 {
			v = model.VerdictPass
		}
		scores[i] = model.QuestionScore{
			QuestionID:     id,
			Answer:         "answer",
			SyntacticScore: finals[i],
			SemanticScore:  finals[i],
			FinalScore:     finals[i],
			Verdict:        v,
			CreatedAt:      now,
		}
	}
	return scores
}

func TestQuestionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.QuestionCount(ctx)
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 questions, got %d", count)
	}

	id := insertTestQuestion(t, s, "What is the capital of X?", "geography")
	q, err := s.GetQuestion(ctx, id)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.Prompt != "What is the capital of X?" {
		t.Errorf("expected prompt, got %q", q.Prompt)
	}
	if q.ReferenceAnswer != "reference for What is the capital of X?" {
		t.Errorf("unexpected reference answer %q", q.ReferenceAnswer)
	}

	if _, err := s.GetQuestion(ctx, 9999); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}

	insertTestQuestion(t, s, "What is a goroutine?", "go")
	list, err := s.ListQuestions(ctx)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(list))
	}
	if list[0].ID > list[1].ID {
		t.Error("questions not ordered by ID")
	}
}

func TestCommitAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for _, p := range []string{"Q1", "Q2", "Q3"} {
		ids = append(ids, insertTestQuestion(t, s, p, ""))
	}

	res, err := s.GetResult(ctx, "alice")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res != nil {
		t.Fatal("expected nil result before commit")
	}

	if err := s.CommitAttempt(ctx, "att-1", "alice", testScores(ids, 90, 60, 75)); err != nil {
		t.Fatalf("CommitAttempt: %v", err)
	}

	res, err = s.GetResult(ctx, "alice")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res == nil {
		t.Fatal("expected result after commit")
	}
	if res.Graded != 3 || len(res.Scores) != 3 {
		t.Errorf("expected 3 graded scores, got %d/%d", res.Graded, len(res.Scores))
	}
	if math.Abs(res.AverageScore-75) > 1e-9 {
		t.Errorf("expected average 75, got %f", res.AverageScore)
	}
	if res.AttemptID != "att-1" {
		t.Errorf("expected attempt att-1, got %q", res.AttemptID)
	}
	if res.Scores[1].Verdict != model.VerdictFail {
		t.Errorf("expected fail verdict on second score, got %q", res.Scores[1].Verdict)
	}

	// A second attempt for the same student is rejected and adds nothing.
	err = s.CommitAttempt(ctx, "att-2", "alice", testScores(ids[:1], 100))
	if !errors.Is(err, ErrAttemptExists) {
		t.Fatalf("expected ErrAttemptExists, got %v", err)
	}
	n, err := s.ScoreCount(ctx)
	if err != nil {
		t.Fatalf("ScoreCount: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 score rows, got %d", n)
	}
}

func TestCommitAttemptRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	q := insertTestQuestion(t, s, "Q1", "")

	// The same question twice violates the per-student uniqueness and must
	// leave neither the attempt nor the first score behind.
	err := s.CommitAttempt(ctx, "att-1", "bob", testScores([]int64{q, q}, 80, 80))
	if err == nil {
		t.Fatal("expected error on duplicate question")
	}
	res, err := s.GetResult(ctx, "bob")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res != nil {
		t.Error("expected no committed attempt after rollback")
	}
	if n, _ := s.ScoreCount(ctx); n != 0 {
		t.Errorf("expected 0 score rows, got %d", n)
	}

	if err := s.CommitAttempt(ctx, "att-2", "bob", nil); err == nil {
		t.Error("expected error for empty commit")
	}
}

func TestListResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	q1 := insertTestQuestion(t, s, "Q1", "")
	q2 := insertTestQuestion(t, s, "Q2", "")

	if err := s.CommitAttempt(ctx, "a", "carol", testScores([]int64{q1, q2}, 80, 70)); err != nil {
		t.Fatalf("CommitAttempt: %v", err)
	}
	if err := s.CommitAttempt(ctx, "b", "dave", testScores([]int64{q1}, 40)); err != nil {
		t.Fatalf("CommitAttempt: %v", err)
	}

	results, err := s.ListResults(ctx)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].StudentID != "carol" || results[0].AverageScore != 75 {
		t.Errorf("unexpected first result %+v", results[0])
	}

	exported, err := s.ExportResults(ctx, func(avg float64) model.Verdict {
		if avg >= 75 {
			return model.VerdictPass
		}
		return model.VerdictFail
	})
	if err != nil {
		t.Fatalf("ExportResults: %v", err)
	}
	if len(exported) != 2 {
		t.Fatalf("expected 2 exported results, got %d", len(exported))
	}
	if exported[0].Verdict != model.VerdictPass || exported[1].Verdict != model.VerdictFail {
		t.Errorf("unexpected verdicts %q %q", exported[0].Verdict, exported[1].Verdict)
	}
	if got := exported[0].Questions[0].Prompt; got != "Q1" {
		t.Errorf("expected prompt Q1, got %q", got)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := s.GetImportedFileHash(ctx, "/some/questions.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash(ctx, "/some/questions.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	if err := s.SetImportedFileHash(ctx, "/some/questions.json", "def456"); err != nil {
		t.Fatalf("SetImportedFileHash update: %v", err)
	}
	hash, _ = s.GetImportedFileHash(ctx, "/some/questions.json")
	if hash != "def456" {
		t.Errorf("expected 'def456', got %q", hash)
	}
}

func TestExportConfigMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetExportConfig(ctx); err != nil || ok {
		t.Fatalf("expected no config, got ok=%v err=%v", ok, err)
	}

	want := model.ExportConfig{
		SyntacticWeight: 0.8,
		SemanticWeight:  0.2,
		PassThreshold:   75,
		EmbeddingPolicy: model.PolicyLenient,
	}
	if err := s.SetExportConfig(ctx, want); err != nil {
		t.Fatalf("SetExportConfig: %v", err)
	}
	got, ok, err := s.GetExportConfig(ctx)
	if err != nil || !ok {
		t.Fatalf("GetExportConfig: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	if err := s.SetMetadata(ctx, "subject", "Geography"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if v, _ := s.GetMetadata(ctx, "subject"); v != "Geography" {
		t.Errorf("expected Geography, got %q", v)
	}
}

func TestListDistinctTopics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestQuestion(t, s, "Q1", "basics")
	insertTestQuestion(t, s, "Q2", "basics")
	insertTestQuestion(t, s, "Q3", "advanced")
	insertTestQuestion(t, s, "Q4", "")

	topics, err := s.ListDistinctTopics(ctx)
	if err != nil {
		t.Fatalf("ListDistinctTopics: %v", err)
	}
	if len(topics) != 2 || topics[0] != "advanced" || topics[1] != "basics" {
		t.Errorf("expected [advanced basics], got %v", topics)
	}
}

func TestFileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grader.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q := insertTestQuestion(t, s, "Q1", "")
	if err := s.CommitAttempt(ctx, "att", "erin", testScores([]int64{q}, 88)); err != nil {
		t.Fatalf("CommitAttempt: %v", err)
	}
	s.Close()

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	res, err := s.GetResult(ctx, "erin")
	if err != nil || res == nil {
		t.Fatalf("GetResult after reopen: %v %v", res, err)
	}
	if res.AverageScore != 88 {
		t.Errorf("expected 88, got %f", res.AverageScore)
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), Driver("oracle"), ""); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
