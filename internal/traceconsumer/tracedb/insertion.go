package tracedb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/metrics"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/model"
)

// TraceDb persists decoded trace messages. Each message is written in a single
// transaction so a failure at any step leaves no partial rows behind.
type TraceDb struct {
	db      *pgxpool.Pool
	metrics *metrics.Metrics
	schema  string
}

func New(db *pgxpool.Pool, m *metrics.Metrics, schema string) *TraceDb {
	return &TraceDb{db: db, metrics: m, schema: schema}
}

// Store saves all entities of one trace message atomically:
// instructor and course are upserted, the course-instructor link, ratings, comments
// and the processed trace record are inserted. A message whose trace id is already
// recorded is an idempotent no-op. Any returned error is retryable by the caller.
func (l *TraceDb) Store(ctx context.Context, msg *model.TraceProcessedMessage) error {
	if err := l.ensureConnection(ctx); err != nil {
		return err
	}

	err := pgx.BeginTxFunc(ctx, l.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		alreadyProcessed, err := l.traceExists(ctx, tx, msg.TraceID)
		if err != nil {
			return err
		}
		if alreadyProcessed {
			log.Infof("Trace %s already processed, skipping", msg.TraceID)
			return nil
		}

		instructorId, err := l.upsertInstructor(ctx, tx, msg.Instructor)
		if err != nil {
			return err
		}

		courseId, err := l.upsertCourse(ctx, tx, msg.Course)
		if err != nil {
			return err
		}

		if err := l.linkCourseInstructor(ctx, tx, courseId, instructorId); err != nil {
			return err
		}

		for _, rating := range msg.Ratings {
			if err := l.insertRating(ctx, tx, courseId, rating); err != nil {
				return err
			}
		}

		for _, comment := range msg.Comments {
			if err := l.insertComment(ctx, tx, courseId, comment); err != nil {
				return err
			}
		}

		return l.insertProcessedTrace(ctx, tx, courseId, msg)
	})
	if err != nil {
		l.metrics.RecordDBError(metrics.DBOperationInsert)
		return errors.WithMessagef(err, "error saving trace %s", msg.TraceID)
	}

	log.Infof("Successfully saved trace %s to database", msg.TraceID)
	return nil
}

func (l *TraceDb) traceExists(ctx context.Context, tx pgx.Tx, traceId string) (bool, error) {
	var id int64
	err := tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT id FROM %s.processed_traces WHERE trace_id = $1`, l.schema),
		traceId,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *TraceDb) upsertInstructor(ctx context.Context, tx pgx.Tx, instructor model.Instructor) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx,
		fmt.Sprintf(`
			INSERT INTO %s.instructors (name)
			VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`, l.schema),
		instructor.Name,
	).Scan(&id)
	return id, err
}

// upsertCourse inserts the course or, if the (course_id, semester, year) key already
// exists, overwrites its descriptive fields while keeping the assigned identifier.
func (l *TraceDb) upsertCourse(ctx context.Context, tx pgx.Tx, course model.Course) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx,
		fmt.Sprintf(`
			INSERT INTO %s.courses
			(course_id, course_name, subject, catalog_section, semester, year,
			 enrollment, responses, declines, processed_at, original_file_name,
			 gcs_bucket, gcs_path)
			VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (course_id, semester, year)
			DO UPDATE SET
				course_name = EXCLUDED.course_name,
				subject = EXCLUDED.subject,
				catalog_section = EXCLUDED.catalog_section,
				enrollment = EXCLUDED.enrollment,
				responses = EXCLUDED.responses,
				declines = EXCLUDED.declines,
				processed_at = EXCLUDED.processed_at,
				original_file_name = EXCLUDED.original_file_name,
				gcs_bucket = EXCLUDED.gcs_bucket,
				gcs_path = EXCLUDED.gcs_path
			RETURNING id`, l.schema),
		course.CourseID,
		course.CourseName,
		course.Subject,
		course.CatalogSection,
		course.Semester,
		course.Year,
		course.Enrollment,
		course.Responses,
		course.Declines,
		course.ProcessedAt.Time,
		course.OriginalFileName,
		course.GcsBucket,
		course.GcsPath,
	).Scan(&id)
	return id, err
}

func (l *TraceDb) linkCourseInstructor(ctx context.Context, tx pgx.Tx, courseId, instructorId int64) error {
	_, err := tx.Exec(ctx,
		fmt.Sprintf(`
			INSERT INTO %s.course_instructors (course_id, instructor_id)
			VALUES ($1, $2)
			ON CONFLICT (course_id, instructor_id) DO NOTHING`, l.schema),
		courseId, instructorId,
	)
	return err
}

func (l *TraceDb) insertRating(ctx context.Context, tx pgx.Tx, courseId int64, rating model.Rating) error {
	_, err := tx.Exec(ctx,
		fmt.Sprintf(`
			INSERT INTO %s.ratings
			(course_id, question_text, category, responses, response_rate,
			 course_mean, dept_mean, univ_mean, course_median, dept_median, univ_median)
			VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, l.schema),
		courseId,
		rating.QuestionText,
		rating.Category,
		rating.Responses,
		rating.ResponseRate,
		rating.CourseMean,
		rating.DeptMean,
		rating.UnivMean,
		rating.CourseMedian,
		rating.DeptMedian,
		rating.UnivMedian,
	)
	return err
}

func (l *TraceDb) insertComment(ctx context.Context, tx pgx.Tx, courseId int64, comment model.Comment) error {
	_, err := tx.Exec(ctx,
		fmt.Sprintf(`
			INSERT INTO %s.comments
			(course_id, category, question_text, response_number, comment_text)
			VALUES
			($1, $2, $3, $4, $5)`, l.schema),
		courseId,
		comment.Category,
		comment.QuestionText,
		comment.ResponseNumber,
		comment.CommentText,
	)
	return err
}

func (l *TraceDb) insertProcessedTrace(ctx context.Context, tx pgx.Tx, courseId int64, msg *model.TraceProcessedMessage) error {
	status := "success"
	var errorMessage *string
	if msg.Error != "" {
		status = "error"
		errorMessage = &msg.Error
	}
	_, err := tx.Exec(ctx,
		fmt.Sprintf(`
			INSERT INTO %s.processed_traces
			(trace_id, course_id, processed_at, status, error_message)
			VALUES
			($1, $2, $3, $4, $5)`, l.schema),
		msg.TraceID,
		courseId,
		msg.ProcessedAt.Time,
		status,
		errorMessage,
	)
	return err
}

// GetRecentTraceIds returns the trace ids of the most recently processed messages.
// This seeds the in-memory dedup set after a restart; it is a bounded window, not a
// full history.
func (l *TraceDb) GetRecentTraceIds(ctx context.Context, limit int) ([]string, error) {
	rows, err := l.db.Query(ctx,
		fmt.Sprintf(`
			SELECT trace_id FROM %s.processed_traces
			ORDER BY processed_at DESC
			LIMIT $1`, l.schema),
		limit,
	)
	if err != nil {
		l.metrics.RecordDBError(metrics.DBOperationRead)
		return nil, err
	}
	defer rows.Close()

	traceIds := []string{}
	for rows.Next() {
		var traceId string
		if err := rows.Scan(&traceId); err != nil {
			l.metrics.RecordDBError(metrics.DBOperationRead)
			return nil, err
		}
		traceIds = append(traceIds, traceId)
	}
	return traceIds, rows.Err()
}

func (l *TraceDb) Ping(ctx context.Context) error {
	return l.db.Ping(ctx)
}

// ensureConnection checks the connection is alive before a save attempt and gives the
// pool one chance to re-establish it.
func (l *TraceDb) ensureConnection(ctx context.Context) error {
	if err := l.db.Ping(ctx); err == nil {
		return nil
	}
	log.Info("Database connection lost, attempting to reconnect")
	if err := l.db.Ping(ctx); err != nil {
		l.metrics.RecordDBError(metrics.DBOperationPing)
		return errors.WithMessage(err, "failed to re-establish database connection")
	}
	return nil
}
