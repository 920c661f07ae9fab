// Package exam runs the exam workflow: issuing a random sample of
// questions, grading a student's submitted batch once, and reporting the
// derived result.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pavelanni/answergrader/internal/metrics"
	"github.com/pavelanni/answergrader/internal/model"
	"github.com/pavelanni/answergrader/internal/scoring"
	"github.com/pavelanni/answergrader/internal/store"
	"github.com/pavelanni/answergrader/internal/tracing"
)

// Store is the persistence the workflow needs.
type Store interface {
	ListQuestions(ctx context.Context) ([]model.Question, error)
	GetResult(ctx context.Context, studentID string) (*model.ExamResult, error)
	ListResults(ctx context.Context) ([]model.ExamResult, error)
	CommitAttempt(ctx context.Context, attemptID, studentID string, scores []model.QuestionScore) error
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records grading metrics on m.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSeed makes question sampling reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Service) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSampleTTL sets how long an issued but unsubmitted sample is kept.
// A non-positive ttl keeps samples until the student submits.
func WithSampleTTL(ttl time.Duration) Option {
	return func(s *Service) { s.sampleTTL = ttl }
}

// WithIDGenerator overrides attempt ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// Service grades exams. It is safe for concurrent use.
type Service struct {
	store     Store
	syntactic *scoring.SyntacticScorer
	semantic  *scoring.SemanticScorer
	agg       *scoring.Aggregator
	cfg       model.ExamConfig
	metrics   *metrics.Manager
	now       func() time.Time
	newID     func() string

	rngMu sync.Mutex
	rng   *rand.Rand

	students *keyedMutex

	samplesMu sync.Mutex
	samples   map[string]issuedSample
	sampleTTL time.Duration
}

// DefaultSampleTTL is how long an unsubmitted sample is remembered.
const DefaultSampleTTL = 6 * time.Hour

type issuedSample struct {
	ids      []int64
	issuedAt time.Time
}

// NewService creates a workflow over st using the given scorers.
func NewService(st Store, syn *scoring.SyntacticScorer, sem *scoring.SemanticScorer, cfg model.ExamConfig, opts ...Option) (*Service, error) {
	agg, err := scoring.NewAggregator(cfg)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:     st,
		syntactic: syn,
		semantic:  sem,
		agg:       agg,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		students:  newKeyedMutex(),
		samples:   make(map[string]issuedSample),
		sampleTTL: DefaultSampleTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the exam configuration.
func (s *Service) Config() model.ExamConfig {
	return s.cfg
}

// Classify applies the pass threshold to an exam average.
func (s *Service) Classify(score float64) model.Verdict {
	return s.agg.Classify(score)
}

// SampleQuestions draws n distinct questions from pool uniformly at random.
func (s *Service) SampleQuestions(pool []model.Question, n int) ([]model.Question, error) {
	if n < 1 {
		return nil, fmt.Errorf("sample size must be positive, got %d", n)
	}
	if n > len(pool) {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrPoolTooSmall, n, len(pool))
	}
	s.rngMu.Lock()
	perm := s.rng.Perm(len(pool))
	s.rngMu.Unlock()

	out := make([]model.Question, n)
	for i := range n {
		out[i] = pool[perm[i]]
	}
	return out, nil
}

// Start is the outcome of opening the exam for a student.
type Start struct {
	State     model.AttemptState
	Questions []model.Question  // set when in progress
	Result    *model.ExamResult // set when completed
}

// Start returns the stored result of a completed student, or issues a
// fresh sample. Reloading before submitting replaces the earlier sample.
func (s *Service) Start(ctx context.Context, studentID string) (Start, error) {
	if studentID == "" {
		return Start{}, ErrMissingStudent
	}
	unlock := s.students.Lock(studentID)
	defer unlock()

	res, err := s.result(ctx, studentID)
	if err != nil {
		return Start{}, err
	}
	if res != nil {
		return Start{State: model.StateCompleted, Result: res}, nil
	}

	pool, err := s.store.ListQuestions(ctx)
	if err != nil {
		return Start{}, fmt.Errorf("list questions: %w", err)
	}
	sample, err := s.SampleQuestions(pool, s.cfg.SampleSize)
	if err != nil {
		return Start{}, err
	}

	ids := make([]int64, len(sample))
	for i, q := range sample {
		ids[i] = q.ID
	}
	now := s.now()
	s.samplesMu.Lock()
	s.pruneSamples(now)
	s.samples[studentID] = issuedSample{ids: ids, issuedAt: now}
	s.samplesMu.Unlock()

	slog.Debug("issued question sample", "student", studentID, "questions", ids)
	return Start{State: model.StateInProgress, Questions: sample}, nil
}

// Outcome is the result of a submission.
type Outcome struct {
	Result           *model.ExamResult
	AlreadyCompleted bool
	Skipped          []model.SkippedAnswer
}

// Submit grades a batch of answers keyed by question ID and commits every
// score at once. A student who already completed the exam gets the stored
// result back with AlreadyCompleted set and nothing is re-scored.
func (s *Service) Submit(ctx context.Context, studentID string, answers map[int64]string) (out Outcome, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "exam.Submit")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.Int("exam.answers", len(answers)))

	if studentID == "" {
		return Outcome{}, ErrMissingStudent
	}
	unlock := s.students.Lock(studentID)
	defer unlock()

	existing, err := s.result(ctx, studentID)
	if err != nil {
		return Outcome{}, err
	}
	if existing != nil {
		return s.alreadyCompleted(studentID, existing), nil
	}

	pool, err := s.store.ListQuestions(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("list questions: %w", err)
	}
	valid, skipped := s.validate(studentID, pool, answers)
	out.Skipped = skipped
	if len(valid) == 0 {
		s.metrics.RecordSubmission(metrics.OutcomeNoAnswers)
		return out, ErrNoAnswers
	}

	attemptID := s.newID()
	now := s.now().UTC()
	scores := make([]model.QuestionScore, 0, len(valid))
	for _, a := range valid {
		sc, err := s.ScoreAnswer(ctx, a.question, a.text)
		if err != nil {
			s.metrics.RecordSubmission(metrics.OutcomeEmbeddingFailed)
			slog.Error("grading aborted", "student", studentID, "question", a.question.ID, "error", err)
			return out, err
		}
		sc.AttemptID = attemptID
		sc.StudentID = studentID
		sc.CreatedAt = now
		scores = append(scores, sc)
	}

	if err := s.store.CommitAttempt(ctx, attemptID, studentID, scores); err != nil {
		if errors.Is(err, store.ErrAttemptExists) {
			existing, rerr := s.result(ctx, studentID)
			if rerr != nil {
				return out, rerr
			}
			if existing != nil {
				return s.alreadyCompleted(studentID, existing), nil
			}
		}
		s.metrics.RecordSubmission(metrics.OutcomePersistFailed)
		slog.Error("commit scores failed", "student", studentID, "error", err)
		return out, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.samplesMu.Lock()
	delete(s.samples, studentID)
	s.samplesMu.Unlock()

	for _, sc := range scores {
		s.metrics.RecordAnswerScored(string(sc.Verdict), sc.FinalScore)
	}
	s.metrics.RecordSubmission(metrics.OutcomeCompleted)

	res, err := s.result(ctx, studentID)
	if err != nil || res == nil {
		slog.Warn("re-reading committed result failed", "student", studentID, "error", err)
		res = s.summarize(attemptID, studentID, now, scores)
	}
	out.Result = res
	slog.Info("exam graded", "student", studentID, "attempt", attemptID,
		"graded", res.Graded, "skipped", len(skipped), "average", res.AverageScore, "verdict", res.Verdict)
	return out, nil
}

// ScoreAnswer grades one answer against its question without persisting it.
func (s *Service) ScoreAnswer(ctx context.Context, q model.Question, text string) (model.QuestionScore, error) {
	ctx, span := tracing.Tracer().Start(ctx, "exam.ScoreAnswer")
	defer span.End()
	span.SetAttributes(attribute.Int64("exam.question_id", q.ID))

	syn := s.syntactic.Score(text, q.ReferenceAnswer)

	fallback := false
	sem, err := s.semantic.Score(ctx, text, q.ReferenceAnswer)
	if err != nil {
		if s.cfg.EmbeddingPolicy != model.PolicyLenient {
			span.RecordError(err)
			span.SetStatus(codes.Error, "semantic score unavailable")
			return model.QuestionScore{}, err
		}
		slog.Warn("semantic score unavailable, grading syntactic only", "question", q.ID, "error", err)
		s.metrics.RecordSemanticFallback()
		sem, fallback = 0, true
	}

	agg := s.agg.Aggregate(syn, sem)
	span.SetAttributes(attribute.Float64("exam.final_score", agg.FinalScore))
	return model.QuestionScore{
		QuestionID:       q.ID,
		Answer:           text,
		SyntacticScore:   agg.SyntacticScore,
		SemanticScore:    agg.SemanticScore,
		FinalScore:       agg.FinalScore,
		Verdict:          agg.Verdict,
		SemanticFallback: fallback,
	}, nil
}

// Result returns the student's derived result, or nil if they have not
// completed the exam.
func (s *Service) Result(ctx context.Context, studentID string) (*model.ExamResult, error) {
	if studentID == "" {
		return nil, ErrMissingStudent
	}
	return s.result(ctx, studentID)
}

// Results returns every completed student's result, oldest first.
func (s *Service) Results(ctx context.Context) ([]model.ExamResult, error) {
	results, err := s.store.ListResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	for i := range results {
		results[i].Verdict = s.agg.Classify(results[i].AverageScore)
	}
	return results, nil
}

// State reports where the student is in the exam lifecycle.
func (s *Service) State(ctx context.Context, studentID string) (model.AttemptState, error) {
	res, err := s.Result(ctx, studentID)
	if err != nil {
		return "", err
	}
	if res != nil {
		return model.StateCompleted, nil
	}
	if _, issued := s.sampleFor(studentID); issued {
		return model.StateInProgress, nil
	}
	return model.StateNotStarted, nil
}

func (s *Service) result(ctx context.Context, studentID string) (*model.ExamResult, error) {
	res, err := s.store.GetResult(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	if res != nil {
		res.Verdict = s.agg.Classify(res.AverageScore)
	}
	return res, nil
}

func (s *Service) alreadyCompleted(studentID string, res *model.ExamResult) Outcome {
	slog.Warn("rejected repeated submission", "student", studentID, "attempt", res.AttemptID)
	s.metrics.RecordSubmission(metrics.OutcomeAlreadyCompleted)
	return Outcome{Result: res, AlreadyCompleted: true}
}

func (s *Service) summarize(attemptID, studentID string, at time.Time, scores []model.QuestionScore) *model.ExamResult {
	var sum float64
	for _, sc := range scores {
		sum += sc.FinalScore
	}
	avg := sum / float64(len(scores))
	return &model.ExamResult{
		StudentID:    studentID,
		AttemptID:    attemptID,
		AverageScore: avg,
		Verdict:      s.agg.Classify(avg),
		Graded:       len(scores),
		SubmittedAt:  at,
		Scores:       scores,
	}
}

// sampleFor returns the student's unexpired sample.
func (s *Service) sampleFor(studentID string) ([]int64, bool) {
	s.samplesMu.Lock()
	defer s.samplesMu.Unlock()
	smp, ok := s.samples[studentID]
	if !ok {
		return nil, false
	}
	if s.expired(smp, s.now()) {
		delete(s.samples, studentID)
		return nil, false
	}
	return smp.ids, true
}

// pruneSamples drops expired samples. Callers hold samplesMu.
func (s *Service) pruneSamples(now time.Time) {
	for id, smp := range s.samples {
		if s.expired(smp, now) {
			delete(s.samples, id)
		}
	}
}

func (s *Service) expired(smp issuedSample, now time.Time) bool {
	return s.sampleTTL > 0 && now.Sub(smp.issuedAt) > s.sampleTTL
}

type validAnswer struct {
	question model.Question
	text     string
}

// validate splits a batch into gradable answers and skipped entries.
// Entries are visited in question ID order so the result is deterministic.
func (s *Service) validate(studentID string, pool []model.Question, answers map[int64]string) ([]validAnswer, []model.SkippedAnswer) {
	byID := make(map[int64]model.Question, len(pool))
	for _, q := range pool {
		byID[q.ID] = q
	}

	issued, haveSample := s.sampleFor(studentID)

	ids := make([]int64, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var (
		valid   []validAnswer
		skipped []model.SkippedAnswer
	)
	for _, id := range ids {
		text := answers[id]
		verr := s.check(id, text, byID, issued, haveSample, len(valid))
		if verr != nil {
			slog.Debug("skipping answer", "student", studentID, "error", verr)
			skipped = append(skipped, model.SkippedAnswer{QuestionID: id, Reason: verr.Reason})
			continue
		}
		valid = append(valid, validAnswer{question: byID[id], text: text})
	}
	return valid, skipped
}

func (s *Service) check(id int64, text string, byID map[int64]model.Question, issued []int64, haveSample bool, accepted int) *ValidationError {
	switch {
	case strings.TrimSpace(text) == "":
		return &ValidationError{QuestionID: id, Reason: model.SkipEmpty}
	case !hasQuestion(byID, id):
		return &ValidationError{QuestionID: id, Reason: model.SkipUnknownQuestion}
	case haveSample && !slices.Contains(issued, id):
		return &ValidationError{QuestionID: id, Reason: model.SkipNotInSample}
	case !haveSample && accepted >= s.cfg.SampleSize:
		return &ValidationError{QuestionID: id, Reason: model.SkipOverLimit}
	}
	return nil
}

func hasQuestion(byID map[int64]model.Question, id int64) bool {
	_, ok := byID[id]
	return ok
}
