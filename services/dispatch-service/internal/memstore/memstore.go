// Package memstore is an in-memory domain.Store used as the test double by
// every dispatch package's tests. Faults can be injected per operation to
// exercise fail-closed paths. Production code never imports it.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/domain"
)

// Operation names accepted by Fail.
const (
	OpGetWorker   = "GetWorker"
	OpListWorkers = "ListWorkers"
	OpGetBusiness = "GetBusiness"
	OpWeeklySlots = "ListWeeklySlots"
	OpExceptions  = "ListExceptions"
	OpGetJob      = "GetJob"
	OpListJobs    = "ListWorkerJobs"
)

var ErrInjected = errors.New("injected store failure")

type Store struct {
	mu         sync.RWMutex
	businesses map[string]domain.Business
	workers    map[string]domain.Worker
	weekly     map[string][]domain.WeeklySlot
	exceptions map[string][]domain.AvailabilityException
	jobs       map[string]domain.Job
	// faults maps op -> worker id ("" = any) -> error
	faults map[string]map[string]error
	calls  map[string]int
}

func New() *Store {
	return &Store{
		businesses: map[string]domain.Business{},
		workers:    map[string]domain.Worker{},
		weekly:     map[string][]domain.WeeklySlot{},
		exceptions: map[string][]domain.AvailabilityException{},
		jobs:       map[string]domain.Job{},
		faults:     map[string]map[string]error{},
		calls:      map[string]int{},
	}
}

var _ domain.Store = (*Store)(nil)

func (s *Store) PutBusiness(b domain.Business) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businesses[b.ID] = b
	return s
}

func (s *Store) PutWorker(w domain.Worker) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = w
	return s
}

func (s *Store) PutWeekly(slots ...domain.WeeklySlot) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range slots {
		s.weekly[sl.WorkerID] = append(s.weekly[sl.WorkerID], sl)
	}
	return s
}

func (s *Store) PutException(e domain.AvailabilityException) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions[e.WorkerID] = append(s.exceptions[e.WorkerID], e)
	return s
}

func (s *Store) PutJob(j domain.Job) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return s
}

// Fail makes op return err. With workerIDs, only calls for those workers fail.
func (s *Store) Fail(op string, err error, workerIDs ...string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	if s.faults[op] == nil {
		s.faults[op] = map[string]error{}
	}
	if len(workerIDs) == 0 {
		s.faults[op][""] = err
	}
	for _, id := range workerIDs {
		s.faults[op][id] = err
	}
	return s
}

// Heal clears every injected fault.
func (s *Store) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = map[string]map[string]error{}
}

func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// enter records the call and returns any injected fault. Caller holds no lock.
func (s *Store) enter(ctx context.Context, op, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if f := s.faults[op]; f != nil {
		if err, ok := f[workerID]; ok {
			return err
		}
		if err, ok := f[""]; ok {
			return err
		}
	}
	return nil
}

func (s *Store) GetWorker(ctx context.Context, businessID, workerID string) (domain.Worker, error) {
	if err := s.enter(ctx, OpGetWorker, workerID); err != nil {
		return domain.Worker{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[workerID]
	if !ok || w.BusinessID != businessID {
		return domain.Worker{}, domain.NotFound("worker", workerID)
	}
	return w, nil
}

func (s *Store) ListWorkers(ctx context.Context, businessID string, status domain.WorkerStatus) ([]domain.Worker, error) {
	if err := s.enter(ctx, OpListWorkers, ""); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Worker
	for _, w := range s.workers {
		if w.BusinessID == businessID && (status == "" || w.Status == status) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetBusiness(ctx context.Context, businessID string) (domain.Business, error) {
	if err := s.enter(ctx, OpGetBusiness, ""); err != nil {
		return domain.Business{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.businesses[businessID]
	if !ok {
		return domain.Business{}, domain.NotFound("business", businessID)
	}
	return b, nil
}

func (s *Store) ListWeeklySlots(ctx context.Context, workerID string) ([]domain.WeeklySlot, error) {
	if err := s.enter(ctx, OpWeeklySlots, workerID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.WeeklySlot(nil), s.weekly[workerID]...), nil
}

func (s *Store) ListExceptions(ctx context.Context, workerID, fromDate, toDate string) ([]domain.AvailabilityException, error) {
	if err := s.enter(ctx, OpExceptions, workerID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AvailabilityException
	for _, e := range s.exceptions[workerID] {
		if e.Date >= fromDate && e.Date <= toDate {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) GetJob(ctx context.Context, businessID, jobID string) (domain.Job, error) {
	if err := s.enter(ctx, OpGetJob, ""); err != nil {
		return domain.Job{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok || j.BusinessID != businessID {
		return domain.Job{}, domain.NotFound("job", jobID)
	}
	return j, nil
}

func (s *Store) ListWorkerJobs(ctx context.Context, workerID string, from, to time.Time) ([]domain.Job, error) {
	if err := s.enter(ctx, OpListJobs, workerID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if j.WorkerID != workerID {
			continue
		}
		if j.ScheduledAt.Before(to) && from.Before(j.End()) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ScheduledAt.Before(out[k].ScheduledAt) })
	return out, nil
}
