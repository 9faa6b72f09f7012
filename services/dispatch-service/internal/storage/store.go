package storage

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/crewdispatch/libs/resilience"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/domain"
)

//go:embed schema.sql
var schema string

// Queryer is satisfied by *db.Pool, *pgxpool.Pool and pgx.Tx.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and writes scheduling records. A pool-backed Store routes
// reads through the circuit breaker; a tx-bound Store does not, so errors
// inside a commit surface unchanged.
type Store struct {
	q       Queryer
	breaker *resilience.Breaker
}

var _ domain.Store = (*Store)(nil)

func NewStore(q Queryer, breaker *resilience.Breaker) *Store {
	return &Store{q: q, breaker: breaker}
}

// WithTx returns a Store bound to tx, for use inside one commit.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{q: tx}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, q Queryer) error {
	_, err := q.Exec(ctx, schema)
	return err
}

// IsBenign reports errors the breaker must not count: answers, and reads
// abandoned by their caller (a timed out search cancels many at once).
func IsBenign(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	// invalid_text_representation: a malformed uuid cannot match any row.
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func read[T any](s *Store, fn func() (T, error)) (T, error) {
	if s.breaker == nil {
		return fn()
	}
	return resilience.Execute(s.breaker, fn)
}

func notFound(err error, kind, id string) error {
	if IsNotFound(err) {
		return domain.NotFound(kind, id)
	}
	return err
}

func (s *Store) GetWorker(ctx context.Context, businessID, workerID string) (domain.Worker, error) {
	return read(s, func() (domain.Worker, error) {
		var w domain.Worker
		var status string
		err := s.q.QueryRow(ctx, `
			SELECT id::text, business_id::text, name, status, skills
			FROM workers
			WHERE id = $1 AND business_id = $2
		`, workerID, businessID).Scan(&w.ID, &w.BusinessID, &w.Name, &status, &w.Skills)
		if err != nil {
			return domain.Worker{}, notFound(err, "worker", workerID)
		}
		w.Status = domain.WorkerStatus(status)
		return w, nil
	})
}

func (s *Store) ListWorkers(ctx context.Context, businessID string, status domain.WorkerStatus) ([]domain.Worker, error) {
	return read(s, func() ([]domain.Worker, error) {
		rows, err := s.q.Query(ctx, `
			SELECT id::text, business_id::text, name, status, skills
			FROM workers
			WHERE business_id = $1 AND ($2 = '' OR status = $2)
			ORDER BY id
		`, businessID, string(status))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []domain.Worker
		for rows.Next() {
			var w domain.Worker
			var st string
			if err := rows.Scan(&w.ID, &w.BusinessID, &w.Name, &st, &w.Skills); err != nil {
				return nil, err
			}
			w.Status = domain.WorkerStatus(st)
			out = append(out, w)
		}
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return out, nil
	})
}

func (s *Store) GetBusiness(ctx context.Context, businessID string) (domain.Business, error) {
	return read(s, func() (domain.Business, error) {
		var b domain.Business
		var days []int16
		err := s.q.QueryRow(ctx, `
			SELECT id::text, name, timezone, working_days, start_minute, end_minute,
				break_start_minute, break_end_minute, minimum_notice_hours, max_advance_booking_days
			FROM businesses
			WHERE id = $1
		`, businessID).Scan(
			&b.ID,
			&b.Name,
			&b.Timezone,
			&days,
			&b.StartMinute,
			&b.EndMinute,
			&b.BreakStartMinute,
			&b.BreakEndMinute,
			&b.MinimumNoticeHours,
			&b.MaxAdvanceBookingDays,
		)
		if err != nil {
			return domain.Business{}, notFound(err, "business", businessID)
		}
		b.WorkingDays = weekdays(days)
		return b, nil
	})
}

func (s *Store) ListWeeklySlots(ctx context.Context, workerID string) ([]domain.WeeklySlot, error) {
	return read(s, func() ([]domain.WeeklySlot, error) {
		rows, err := s.q.Query(ctx, `
			SELECT worker_id::text, weekday, start_minute, end_minute
			FROM worker_weekly_slots
			WHERE worker_id = $1
			ORDER BY weekday, start_minute
		`, workerID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []domain.WeeklySlot
		for rows.Next() {
			var sl domain.WeeklySlot
			var wd int16
			if err := rows.Scan(&sl.WorkerID, &wd, &sl.StartMinute, &sl.EndMinute); err != nil {
				return nil, err
			}
			sl.Weekday = time.Weekday(wd)
			out = append(out, sl)
		}
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return out, nil
	})
}

func (s *Store) ListExceptions(ctx context.Context, workerID, fromDate, toDate string) ([]domain.AvailabilityException, error) {
	return read(s, func() ([]domain.AvailabilityException, error) {
		rows, err := s.q.Query(ctx, `
			SELECT worker_id::text, exception_date::text, is_available, start_minute, end_minute, COALESCE(reason, '')
			FROM worker_availability_exceptions
			WHERE worker_id = $1 AND exception_date BETWEEN $2::date AND $3::date
			ORDER BY exception_date
		`, workerID, fromDate, toDate)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []domain.AvailabilityException
		for rows.Next() {
			var e domain.AvailabilityException
			if err := rows.Scan(&e.WorkerID, &e.Date, &e.IsAvailable, &e.StartMinute, &e.EndMinute, &e.Reason); err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return out, nil
	})
}

const jobColumns = `id::text, business_id::text, worker_id::text, client_id::text, title,
	scheduled_at, duration_minutes, status, required_skills, updated_at`

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var status string
	err := row.Scan(
		&j.ID,
		&j.BusinessID,
		&j.WorkerID,
		&j.ClientID,
		&j.Title,
		&j.ScheduledAt,
		&j.DurationMinutes,
		&status,
		&j.RequiredSkills,
		&j.UpdatedAt,
	)
	j.Status = domain.JobStatus(status)
	return j, err
}

func (s *Store) GetJob(ctx context.Context, businessID, jobID string) (domain.Job, error) {
	return read(s, func() (domain.Job, error) {
		j, err := scanJob(s.q.QueryRow(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1 AND business_id = $2
		`, jobID, businessID))
		if err != nil {
			return domain.Job{}, notFound(err, "job", jobID)
		}
		return j, nil
	})
}

// ListWorkerJobs returns jobs of every status overlapping [from, to).
func (s *Store) ListWorkerJobs(ctx context.Context, workerID string, from, to time.Time) ([]domain.Job, error) {
	return read(s, func() ([]domain.Job, error) {
		rows, err := s.q.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE worker_id = $1
				AND scheduled_at < $3
				AND ends_at > $2
			ORDER BY scheduled_at ASC
		`, workerID, from, to)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []domain.Job
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, j)
		}
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return out, nil
	})
}

// LockJob reads a job and holds its row lock until the transaction ends.
func (s *Store) LockJob(ctx context.Context, businessID, jobID string) (domain.Job, error) {
	j, err := scanJob(s.q.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, jobID, businessID))
	if err != nil {
		return domain.Job{}, notFound(err, "job", jobID)
	}
	return j, nil
}

// MoveJob assigns the job to workerID at start and marks it rescheduled.
// It returns the new version stamp.
func (s *Store) MoveJob(ctx context.Context, job domain.Job, workerID string, start time.Time) (time.Time, error) {
	var updatedAt time.Time
	err := s.q.QueryRow(ctx, `
		UPDATE jobs
		SET worker_id = $3,
			scheduled_at = $4,
			ends_at = $5,
			status = 'rescheduled',
			updated_at = now()
		WHERE id = $1 AND business_id = $2
		RETURNING updated_at
	`, job.ID, job.BusinessID, workerID, start, start.Add(job.Duration())).Scan(&updatedAt)
	if err != nil {
		return time.Time{}, notFound(err, "job", job.ID)
	}
	return updatedAt, nil
}

func (s *Store) InsertSwapRequest(ctx context.Context, sr *domain.SwapRequest) error {
	return s.q.QueryRow(ctx, `
		INSERT INTO swap_requests
			(id, business_id, job_id, original_worker_id, requested_worker_id, compatibility_score, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, sr.ID, sr.BusinessID, sr.JobID, sr.OriginalWorkerID, sr.RequestedWorkerID, sr.CompatibilityScore, string(sr.Status)).Scan(&sr.CreatedAt)
}

func weekdays(days []int16) []time.Weekday {
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if d >= 0 && d <= 6 {
			out = append(out, time.Weekday(d))
		}
	}
	return out
}
