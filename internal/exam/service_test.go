package exam

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/answergrader/internal/model"
	"github.com/pavelanni/answergrader/internal/scoring"
	"github.com/pavelanni/answergrader/internal/store"
	"github.com/pavelanni/answergrader/internal/textnorm"
)

// fixedEmbedder returns the same vector for every text unless a text has
// its own entry. Texts listed in fail make it return an error.
type fixedEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (e fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("model not loaded")
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

// failingCommitStore fails CommitAttempt a fixed number of times.
type failingCommitStore struct {
	*store.Store
	mu       sync.Mutex
	failures int
}

func (f *failingCommitStore) CommitAttempt(ctx context.Context, attemptID, studentID string, scores []model.QuestionScore) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("disk full")
	}
	f.mu.Unlock()
	return f.Store.CommitAttempt(ctx, attemptID, studentID, scores)
}

// racingStore simulates another process committing first.
type racingStore struct {
	*store.Store
}

func (r racingStore) CommitAttempt(ctx context.Context, attemptID, studentID string, scores []model.QuestionScore) error {
	if err := r.Store.CommitAttempt(ctx, "other-process", studentID, scores); err != nil {
		return err
	}
	return store.ErrAttemptExists
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedQuestions inserts n questions whose reference answer is "answer <i>".
func seedQuestions(t *testing.T, s *store.Store, n int) []model.Question {
	t.Helper()
	var qs []model.Question
	for i := 1; i <= n; i++ {
		q := model.Question{
			Prompt:          fmt.Sprintf("Question %d?", i),
			ReferenceAnswer: fmt.Sprintf("reference answer number %d", i),
		}
		id, err := s.InsertQuestion(context.Background(), q)
		if err != nil {
			t.Fatalf("InsertQuestion: %v", err)
		}
		q.ID = id
		qs = append(qs, q)
	}
	return qs
}

func newTestService(t *testing.T, st Store, emb scoring.Embedder, mutate func(*model.ExamConfig)) *Service {
	t.Helper()
	cfg := model.DefaultExamConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(st,
		scoring.NewSyntacticScorer(textnorm.New()),
		scoring.NewSemanticScorer(emb),
		cfg,
		WithSeed(42),
		WithClock(func() time.Time { return time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC) }),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

// correctAnswers answers every question with its reference answer.
func correctAnswers(qs []model.Question) map[int64]string {
	answers := make(map[int64]string, len(qs))
	for _, q := range qs {
		answers[q.ID] = q.ReferenceAnswer
	}
	return answers
}

func scoreCount(t *testing.T, s *store.Store) int {
	t.Helper()
	n, err := s.ScoreCount(context.Background())
	if err != nil {
		t.Fatalf("ScoreCount: %v", err)
	}
	return n
}

func TestSampleQuestions(t *testing.T) {
	svc := newTestService(t, newTestStore(t), fixedEmbedder{}, nil)
	pool := make([]model.Question, 7)
	for i := range pool {
		pool[i] = model.Question{ID: int64(i + 1)}
	}

	got, err := svc.SampleQuestions(pool, 5)
	if err != nil {
		t.Fatalf("SampleQuestions: %v", err)
	}
	seen := map[int64]bool{}
	for _, q := range got {
		if seen[q.ID] {
			t.Errorf("question %d drawn twice", q.ID)
		}
		seen[q.ID] = true
	}
	if len(got) != 5 {
		t.Errorf("expected 5 questions, got %d", len(got))
	}

	if _, err := svc.SampleQuestions(pool, 8); !errors.Is(err, ErrPoolTooSmall) {
		t.Errorf("expected ErrPoolTooSmall, got %v", err)
	}
	if _, err := svc.SampleQuestions(pool, 0); err == nil {
		t.Error("expected error for empty sample")
	}
}

func TestStartIssuesSample(t *testing.T) {
	st := newTestStore(t)
	seedQuestions(t, st, 7)
	svc := newTestService(t, st, fixedEmbedder{}, nil)
	ctx := context.Background()

	state, _ := svc.State(ctx, "alice")
	if state != model.StateNotStarted {
		t.Errorf("expected not_started, got %s", state)
	}

	start, err := svc.Start(ctx, "alice")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if start.State != model.StateInProgress || len(start.Questions) != 5 {
		t.Fatalf("expected 5 questions in progress, got %s/%d", start.State, len(start.Questions))
	}
	state, _ = svc.State(ctx, "alice")
	if state != model.StateInProgress {
		t.Errorf("expected in_progress, got %s", state)
	}

	if _, err := svc.Start(ctx, ""); !errors.Is(err, ErrMissingStudent) {
		t.Errorf("expected ErrMissingStudent, got %v", err)
	}
}

func TestUnsubmittedSamplesExpire(t *testing.T) {
	st := newTestStore(t)
	seedQuestions(t, st, 7)
	ctx := context.Background()

	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	svc, err := NewService(st,
		scoring.NewSyntacticScorer(textnorm.New()),
		scoring.NewSemanticScorer(fixedEmbedder{}),
		model.DefaultExamConfig(),
		WithSeed(42),
		WithClock(func() time.Time { return now }),
		WithSampleTTL(time.Hour),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	for _, id := range []string{"alice", "bob", "carol"} {
		if _, err := svc.Start(ctx, id); err != nil {
			t.Fatalf("Start(%s): %v", id, err)
		}
	}
	if len(svc.samples) != 3 {
		t.Fatalf("expected 3 remembered samples, got %d", len(svc.samples))
	}

	now = now.Add(30 * time.Minute)
	if state, _ := svc.State(ctx, "alice"); state != model.StateInProgress {
		t.Errorf("expected in_progress within the ttl, got %s", state)
	}

	now = now.Add(time.Hour)
	if state, _ := svc.State(ctx, "alice"); state != model.StateNotStarted {
		t.Errorf("expected not_started after the ttl, got %s", state)
	}

	// A new visit sweeps everyone else who walked away.
	if _, err := svc.Start(ctx, "dave"); err != nil {
		t.Fatalf("Start(dave): %v", err)
	}
	if len(svc.samples) != 1 {
		t.Errorf("expected only dave's sample to remain, got %d", len(svc.samples))
	}
	if _, ok := svc.samples["dave"]; !ok {
		t.Error("dave's sample is missing")
	}
}

func TestStartPoolTooSmall(t *testing.T) {
	st := newTestStore(t)
	seedQuestions(t, st, 3)
	svc := newTestService(t, st, fixedEmbedder{}, nil)

	if _, err := svc.Start(context.Background(), "alice"); !errors.Is(err, ErrPoolTooSmall) {
		t.Errorf("expected ErrPoolTooSmall, got %v", err)
	}
}

func TestSubmitCompletesExam(t *testing.T) {
	st := newTestStore(t)
	seedQuestions(t, st, 7)
	svc := newTestService(t, st, fixedEmbedder{}, nil)
	ctx := context.Background()

	start, err := svc.Start(ctx, "alice")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	out, err := svc.Submit(ctx, "alice", correctAnswers(start.Questions))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.AlreadyCompleted {
		t.Error("first submission reported as repeated")
	}
	res := out.Result
	if res.Graded != 5 || res.AverageScore != 100 || res.Verdict != model.VerdictPass {
		t.Errorf("unexpected result %+v", res)
	}
	if res.AttemptID == "" {
		t.Error("expected attempt ID")
	}

	state, _ := svc.State(ctx, "alice")
	if state != model.StateCompleted {
		t.Errorf("expected completed, got %s", state)
	}

	again, err := svc.Start(ctx, "alice")
	if err != nil {
		t.Fatalf("Start after completion: %v", err)
	}
	if again.State != model.StateCompleted || again.Result == nil || len(again.Questions) != 0 {
		t.Errorf("completed student must see the stored result, got %+v", again)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	seedQuestions(t, st, 5)
	svc := newTestService(t, st, fixedEmbedder{}, nil)
	ctx := context.Background()

	start, _ := svc.Start(ctx, "bob")
	first, err := svc.Submit(ctx, "bob", correctAnswers(start.Questions))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rows := scoreCount(t, st)

	answers := correctAnswers(start.Questions)
	for id := range answers {
		answers[id] = "something completely different"
	}
	second, err := svc.Submit(ctx, "bob", answers)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if !second.AlreadyCompleted {
		t.Error("expected AlreadyCompleted on second submission")
	}
	if second.Result.AverageScore != first.Result.AverageScore {
		t.Errorf("stored result changed: %v then %v", first.Result.AverageScore, second.Result.AverageScore)
	}
	if got := scoreCount(t, st); got != rows {
		t.Errorf("expected %d score rows, got %d", rows, got)
	}
}

func TestSubmitSkipsEmptyAnswers(t *testing.T) {
	st := newTestStore(t)
	seedQuestions(t, st, 5)
	svc := newTestService(t, st, fixedEmbedder{}, nil)
	ctx := context.Background()

	start, _ := svc.Start(ctx, "carol")
	answers := correctAnswers(start.Questions)
	answers[start.Questions[0].ID] = "   "

	out, err := svc.Submit(ctx, "carol", answers)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Result.Graded != 4 {
		t.Errorf("expected 4 graded answers, got %d", out.Result.Graded)
	}
	if len(out.Skipped) != 1 || out.Skipped[0].Reason != model.SkipEmpty {
		t.Errorf("expected one empty skip, got %+v", out.Skipped)
	}
	if out.Result.AverageScore != 100 {
		t.Errorf("empty answer must not count toward the average, got %v", out.Result.AverageScore)
	}
}

func TestSubmitNoAnswers(t *testing.T) {
	st := newTestStore(t)
	qs := seedQuestions(t, st, 5)
	svc := newTestService(t, st, fixedEmbedder{}, nil)
	ctx := context.Background()

	svc.Start(ctx, "dave")
	out, err := svc.Submit(ctx, "dave", map[int64]string{qs[0].ID: "", qs[1].ID: "\n"})
	if !errors.Is(err, ErrNoAnswers) {
		t.Fatalf("expected ErrNoAnswers, got %v", err)
	}
	if len(out.Skipped) != 2 || out.Skipped[0].Reason != model.SkipEmpty {
		t.Errorf("expected both entries skipped as empty, got %+v", out.Skipped)
	}
	if got := scoreCount(t, st); got != 0 {
		t.Errorf("expected no rows, got %d", got)
	}
	state, _ := svc.State(ctx, "dave")
	if state != model.StateInProgress {
		t.Errorf("state must not change, got %s", state)
	}

	if _, err := svc.Submit(ctx, "dave", nil); !errors.Is(err, ErrNoAnswers) {
		t.Errorf("expected ErrNoAnswers for nil batch, got %v", err)
	}
}

func TestSubmitRejectsQuestionsOutsideSample(t *testing.T) {
	st := newTestStore(t)
	qs := seedQuestions(t, st, 7)
	svc := newTestService(t, st, fixedEmbedder{}, nil)
	ctx := context.Background()

	start, _ := svc.Start(ctx, "erin")
	issued := map[int64]bool{}
	for _, q := range start.Questions {
		issued[q.ID] = true
	}
	answers := correctAnswers(start.Questions)
	for _, q := range qs {
		if !issued[q.ID] {
			answers[q.ID] = q.ReferenceAnswer
			break
		}
	}
	answers[9999] = "no such question"

	out, err := svc.Submit(ctx, "erin", answers)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Result.Graded != 5 {
		t.Errorf("expected 5 graded, got %d", out.Result.Graded)
	}
	reasons := map[model.SkipReason]int{}
	for _, sk := range out.Skipped {
		reasons[sk.Reason]++
	}
	if reasons[model.SkipNotInSample] != 1 || reasons[model.SkipUnknownQuestion] != 1 {
		t.Errorf("unexpected skips %+v", out.Skipped)
	}
}

func TestSubmitWithoutIssuedSampleCapsAnswers(t *testing.T) {
	st := newTestStore(t)
	qs := seedQuestions(t, st, 7)
	svc := newTestService(t, st, fixedEmbedder{}, nil)

	out, err := svc.Submit(context.Background(), "frank", correctAnswers(qs))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Result.Graded != 5 {
		t.Errorf("expected 5 graded, got %d", out.Result.Graded)
	}
	if len(out.Skipped) != 2 || out.Skipped[0].Reason != model.SkipOverLimit {
		t.Errorf("expected 2 over-limit skips, got %+v", out.Skipped)
	}
	// The lowest question IDs are kept.
	if out.Result.Scores[0].QuestionID != qs[0].ID {
		t.Errorf("expected first scored question %d, got %d", qs[0].ID, out.Result.Scores[0].QuestionID)
	}
}

func TestSubmitAverageOfEighty(t *testing.T) {
	st := newTestStore(t)
	qs := seedQuestions(t, st, 5)

	// Reordered answers normalize to the reference (syntactic 1) while the
	// embeddings are orthogonal (semantic 0): 0.8*100 + 0.2*0 = 80.
	vectors := map[string][]float32{}
	answers := map[int64]string{}
	for i, q := range qs {
		answer := fmt.Sprintf("number %d reference answer", i+1)
		answers[q.ID] = answer
		vectors[q.ReferenceAnswer] = []float32{1, 0}
		vectors[answer] = []float32{0, 1}
	}
	svc := newTestService(t, st, fixedEmbedder{vectors: vectors}, nil)

	out, err := svc.Submit(context.Background(), "gina", answers)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for _, sc := range out.Result.Scores {
		if math.Abs(sc.FinalScore-80) > 1e-9 {
			t.Errorf("question %d: expected 80, got %v", sc.QuestionID, sc.FinalScore)
		}
	}
	if math.Abs(out.Result.AverageScore-80) > 1e-9 || out.Result.Verdict != model.VerdictPass {
		t.Errorf("expected 80 pass, got %v %s", out.Result.AverageScore, out.Result.Verdict)
	}
}

func TestCapitalCityScenario(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id, err := st.InsertQuestion(ctx, model.Question{
		Prompt:          "What is the capital of X?",
		ReferenceAnswer: "The capital of X is city Y",
	})
	if err != nil {
		t.Fatalf("InsertQuestion: %v", err)
	}
	svc := newTestService(t, st, fixedEmbedder{}, func(c *model.ExamConfig) { c.SampleSize = 1 })

	out, err := svc.Submit(ctx, "hana", map[int64]string{id: "City Y is the capital of X"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sc := out.Result.Scores[0]
	if sc.FinalScore < 90 || sc.Verdict != model.VerdictPass {
		t.Errorf("expected >= 90 pass, got %v %s", sc.FinalScore, sc.Verdict)
	}
}

func TestStrictPolicyAbortsBatch(t *testing.T) {
	st := newTestStore(t)
	qs := seedQuestions(t, st, 5)
	svc := newTestService(t, st, fixedEmbedder{fail: true}, nil)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "ivan", correctAnswers(qs))
	if !errors.Is(err, scoring.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if got := scoreCount(t, st); got != 0 {
		t.Errorf("expected no rows, got %d", got)
	}
	state, _ := svc.State(ctx, "ivan")
	if state == model.StateCompleted {
		t.Error("failed batch must not complete the exam")
	}
}

func TestLenientPolicyFallsBackToSyntactic(t *testing.T) {
	st := newTestStore(t)
	qs := seedQuestions(t, st, 5)
	svc := newTestService(t, st, fixedEmbedder{fail: true}, func(c *model.ExamConfig) {
		c.EmbeddingPolicy = model.PolicyLenient
	})

	out, err := svc.Submit(context.Background(), "judy", correctAnswers(qs))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for _, sc := range out.Result.Scores {
		if !sc.SemanticFallback || sc.SemanticScore != 0 {
			t.Errorf("question %d: expected semantic fallback, got %+v", sc.QuestionID, sc)
		}
		if math.Abs(sc.FinalScore-80) > 1e-9 {
			t.Errorf("question %d: expected 80, got %v", sc.QuestionID, sc.FinalScore)
		}
	}
}

func TestPersistenceFailureIsRetryable(t *testing.T) {
	base := newTestStore(t)
	qs := seedQuestions(t, base, 5)
	st := &failingCommitStore{Store: base, failures: 1}
	svc := newTestService(t, st, fixedEmbedder{}, nil)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "kim", correctAnswers(qs))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if state, _ := svc.State(ctx, "kim"); state == model.StateCompleted {
		t.Error("failed commit must leave the exam open")
	}

	out, err := svc.Submit(ctx, "kim", correctAnswers(qs))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out.AlreadyCompleted || out.Result.Graded != 5 {
		t.Errorf("unexpected retry outcome %+v", out)
	}
}

func TestCommitConflictIsAlreadyCompleted(t *testing.T) {
	base := newTestStore(t)
	qs := seedQuestions(t, base, 5)
	svc := newTestService(t, racingStore{Store: base}, fixedEmbedder{}, nil)

	out, err := svc.Submit(context.Background(), "lee", correctAnswers(qs))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !out.AlreadyCompleted || out.Result.AttemptID != "other-process" {
		t.Errorf("expected the other process's attempt, got %+v", out)
	}
}

func TestConcurrentSubmissionsCommitOnce(t *testing.T) {
	st := newTestStore(t)
	qs := seedQuestions(t, st, 5)
	svc := newTestService(t, st, fixedEmbedder{}, nil)
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		repeated  int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Submit(ctx, "mia", correctAnswers(qs))
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if out.AlreadyCompleted {
				repeated++
			} else {
				completed++
			}
		}()
	}
	wg.Wait()

	if completed != 1 || repeated != workers-1 {
		t.Errorf("expected 1 commit and %d repeats, got %d and %d", workers-1, completed, repeated)
	}
	if got := scoreCount(t, st); got != 5 {
		t.Errorf("expected 5 rows, got %d", got)
	}
}

func TestResults(t *testing.T) {
	st := newTestStore(t)
	qs := seedQuestions(t, st, 5)
	svc := newTestService(t, st, fixedEmbedder{}, nil)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "nora", correctAnswers(qs)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	wrong := correctAnswers(qs)
	for id := range wrong {
		wrong[id] = "zzzz qqqq"
	}
	if _, err := svc.Submit(ctx, "omar", wrong); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	results, err := svc.Results(ctx)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	verdicts := map[string]model.Verdict{}
	for _, r := range results {
		verdicts[r.StudentID] = r.Verdict
	}
	if verdicts["nora"] != model.VerdictPass || verdicts["omar"] != model.VerdictFail {
		t.Errorf("unexpected verdicts %v", verdicts)
	}

	res, err := svc.Result(ctx, "nobody")
	if err != nil || res != nil {
		t.Errorf("expected nil result for unknown student, got %v %v", res, err)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	var err error = &ValidationError{QuestionID: 3, Reason: model.SkipNotInSample}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.QuestionID != 3 {
		t.Fatal("errors.As failed")
	}
	if err.Error() != "answer to question 3 skipped: not_in_sample" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
