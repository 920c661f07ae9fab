package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/pavelanni/answergrader/internal/model"
)

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ErrAttemptExists is returned when a student already has a committed attempt.
var ErrAttemptExists = errors.New("attempt already committed")

type Store struct {
	db     *sql.DB
	driver Driver
}

// New opens (or creates) a SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), DriverSQLite, dbPath)
}

// Open connects to the database and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		if dsn == "" {
			dsn = "answergrader.db"
		}
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		}
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/answergrader?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection serializes writers and keeps :memory: databases alive.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS questions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	prompt TEXT NOT NULL,
	reference_answer TEXT NOT NULL,
	topic TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS attempts (
	id TEXT PRIMARY KEY,
	student_id TEXT NOT NULL UNIQUE,
	submitted_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS question_scores (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	attempt_id TEXT NOT NULL,
	student_id TEXT NOT NULL,
	question_id INTEGER NOT NULL,
	answer TEXT NOT NULL,
	syntactic_score REAL NOT NULL,
	semantic_score REAL NOT NULL,
	final_score REAL NOT NULL,
	verdict TEXT NOT NULL,
	semantic_fallback BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	UNIQUE (student_id, question_id),
	FOREIGN KEY (attempt_id) REFERENCES attempts(id),
	FOREIGN KEY (question_id) REFERENCES questions(id)
);

CREATE TABLE IF NOT EXISTS imported_files (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS exam_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS questions (
	id BIGSERIAL PRIMARY KEY,
	prompt TEXT NOT NULL,
	reference_answer TEXT NOT NULL,
	topic TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS attempts (
	id TEXT PRIMARY KEY,
	student_id TEXT NOT NULL UNIQUE,
	submitted_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS question_scores (
	id BIGSERIAL PRIMARY KEY,
	attempt_id TEXT NOT NULL REFERENCES attempts(id),
	student_id TEXT NOT NULL,
	question_id BIGINT NOT NULL REFERENCES questions(id),
	answer TEXT NOT NULL,
	syntactic_score DOUBLE PRECISION NOT NULL,
	semantic_score DOUBLE PRECISION NOT NULL,
	final_score DOUBLE PRECISION NOT NULL,
	verdict TEXT NOT NULL,
	semantic_fallback BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (student_id, question_id)
);

CREATE TABLE IF NOT EXISTS imported_files (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS exam_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// InsertQuestion stores a question.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO questions (prompt, reference_answer, topic) VALUES ($1, $2, $3) RETURNING id`,
		q.Prompt, q.ReferenceAnswer, q.Topic,
	).Scan(&id)
	return id, err
}

// ListQuestions returns all questions ordered by ID.
func (s *Store) ListQuestions(ctx context.Context) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, prompt, reference_answer, topic FROM questions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Prompt, &q.ReferenceAnswer, &q.Topic); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetQuestion returns a question by ID, or sql.ErrNoRows.
func (s *Store) GetQuestion(ctx context.Context, id int64) (model.Question, error) {
	var q model.Question
	err := s.db.QueryRowContext(ctx,
		`SELECT id, prompt, reference_answer, topic FROM questions WHERE id = $1`, id,
	).Scan(&q.ID, &q.Prompt, &q.ReferenceAnswer, &q.Topic)
	return q, err
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

// CommitAttempt writes the attempt marker and every score in one
// transaction. Readers see either none of the rows or all of them.
func (s *Store) CommitAttempt(ctx context.Context, attemptID, studentID string, scores []model.QuestionScore) error {
	if len(scores) == 0 {
		return errors.New("commit attempt: no scores")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	submittedAt := scores[0].CreatedAt
	_, err = tx.ExecContext(ctx,
		`INSERT INTO attempts (id, student_id, submitted_at) VALUES ($1, $2, $3)`,
		attemptID, studentID, submittedAt,
	)
	if err != nil {
		if s.isUniqueViolation(err) {
			return ErrAttemptExists
		}
		return fmt.Errorf("insert attempt: %w", err)
	}

	for _, sc := range scores {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO question_scores
			 (attempt_id, student_id, question_id, answer, syntactic_score, semantic_score,
			  final_score, verdict, semantic_fallback, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			attemptID, studentID, sc.QuestionID, sc.Answer, sc.SyntacticScore, sc.SemanticScore,
			sc.FinalScore, sc.Verdict, sc.SemanticFallback, sc.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert score for question %d: %w", sc.QuestionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetResult returns the student's derived result with all scores, or nil if
// the student has no committed attempt. Verdict is left for the caller.
func (s *Store) GetResult(ctx context.Context, studentID string) (*model.ExamResult, error) {
	res := model.ExamResult{StudentID: studentID}
	err := s.db.QueryRowContext(ctx,
		`SELECT a.id, a.submitted_at, COUNT(qs.id), COALESCE(AVG(qs.final_score), 0)
		 FROM attempts a LEFT JOIN question_scores qs ON qs.attempt_id = a.id
		 WHERE a.student_id = $1
		 GROUP BY a.id, a.submitted_at`, studentID,
	).Scan(&res.AttemptID, &res.SubmittedAt, &res.Graded, &res.AverageScore)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res.Scores, err = s.ListScores(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListScores returns a student's scores ordered by question ID.
func (s *Store) ListScores(ctx context.Context, studentID string) ([]model.QuestionScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, attempt_id, student_id, question_id, answer, syntactic_score, semantic_score,
		        final_score, verdict, semantic_fallback, created_at
		 FROM question_scores WHERE student_id = $1 ORDER BY question_id`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scores []model.QuestionScore
	for rows.Next() {
		var sc model.QuestionScore
		if err := rows.Scan(&sc.ID, &sc.AttemptID, &sc.StudentID, &sc.QuestionID, &sc.Answer,
			&sc.SyntacticScore, &sc.SemanticScore, &sc.FinalScore, &sc.Verdict,
			&sc.SemanticFallback, &sc.CreatedAt); err != nil {
			return nil, err
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

// ListResults returns every committed attempt's derived result, oldest
// first, without per-question scores.
func (s *Store) ListResults(ctx context.Context) ([]model.ExamResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.student_id, a.id, a.submitted_at, COUNT(qs.id), AVG(qs.final_score)
		 FROM attempts a JOIN question_scores qs ON qs.attempt_id = a.id
		 GROUP BY a.student_id, a.id, a.submitted_at
		 ORDER BY a.submitted_at, a.student_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.ExamResult
	for rows.Next() {
		var r model.ExamResult
		if err := rows.Scan(&r.StudentID, &r.AttemptID, &r.SubmittedAt, &r.Graded, &r.AverageScore); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ScoreCount returns the number of persisted question scores.
func (s *Store) ScoreCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM question_scores`).Scan(&count)
	return count, err
}

func (s *Store) isUniqueViolation(err error) bool {
	switch s.driver {
	case DriverPostgres:
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	default:
		var sqliteErr *sqlite.Error
		if !errors.As(err, &sqliteErr) {
			return false
		}
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
}

// ListDistinctTopics returns sorted unique non-empty topics.
func (s *Store) ListDistinctTopics(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT topic FROM questions WHERE topic != '' ORDER BY topic`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}
