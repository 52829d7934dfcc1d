package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Apurer/order-fulfillment/internal/domains/delivery/domain"
	"github.com/Apurer/order-fulfillment/internal/domains/delivery/ports"
)

var _ ports.JobStore = (*JobStore)(nil)

type jobKey struct {
	orderID string
	stage   int
}

// JobStore keeps delivery jobs in memory for development and tests.
type JobStore struct {
	mu   sync.Mutex
	jobs map[jobKey]domain.Job
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: map[jobKey]domain.Job{}}
}

func (s *JobStore) Enqueue(_ context.Context, jobs ...domain.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		if _, ok := s.jobs[jobKey{job.OrderID, job.Stage}]; ok {
			return false, nil
		}
	}
	for _, job := range jobs {
		s.jobs[jobKey{job.OrderID, job.Stage}] = job
	}
	return len(jobs) > 0, nil
}

func (s *JobStore) Due(_ context.Context, now time.Time, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.Job
	for key, job := range s.jobs {
		if job.Published() || job.DueAt.After(now) {
			continue
		}
		if key.stage > 0 {
			prev, ok := s.jobs[jobKey{key.orderID, key.stage - 1}]
			if ok && !prev.Published() {
				continue
			}
		}
		due = append(due, job)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].DueAt.Before(due[j].DueAt)
		}
		if due[i].OrderID != due[j].OrderID {
			return due[i].OrderID < due[j].OrderID
		}
		return due[i].Stage < due[j].Stage
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *JobStore) MarkPublished(_ context.Context, orderID string, stage int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := jobKey{orderID, stage}
	job, ok := s.jobs[key]
	if !ok {
		return nil
	}
	published := at
	job.PublishedAt = &published
	job.Attempts++
	s.jobs[key] = job
	return nil
}

func (s *JobStore) MarkFailed(_ context.Context, orderID string, stage int, reason string, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := jobKey{orderID, stage}
	job, ok := s.jobs[key]
	if !ok {
		return nil
	}
	job.Attempts++
	job.LastError = reason
	job.DueAt = retryAt
	s.jobs[key] = job
	return nil
}

func (s *JobStore) PurgeCompleted(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for key, job := range s.jobs {
		if key.stage != domain.FinalStage || !job.Published() || !job.PublishedAt.Before(before) {
			continue
		}
		for k := range s.jobs {
			if k.orderID == key.orderID {
				delete(s.jobs, k)
				purged++
			}
		}
	}
	return purged, nil
}

// Jobs returns a snapshot of an order's jobs ordered by stage.
func (s *JobStore) Jobs(orderID string) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []domain.Job
	for key, job := range s.jobs {
		if key.orderID == orderID {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Stage < jobs[j].Stage })
	return jobs
}
