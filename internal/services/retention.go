package services

import (
	"sync"
	"time"
)

type scheduledTask struct {
	timer *time.Timer
}

// Scheduler runs keyed one-shot deferred tasks. Scheduling a key that is
// already pending replaces the earlier task. Callbacks must re-check the
// state they act on, since a cancel can lose the race with a firing timer.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*scheduledTask
	stopped bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]*scheduledTask)}
}

func (s *Scheduler) Schedule(key string, after time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
	}
	task := &scheduledTask{}
	task.timer = time.AfterFunc(after, func() {
		s.mu.Lock()
		if s.tasks[key] != task {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()
		fn()
	})
	s.tasks[key] = task
}

// Cancel reports whether a pending task was removed before it fired.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[key]
	if !ok {
		return false
	}
	delete(s.tasks, key)
	return task.timer.Stop()
}

func (s *Scheduler) IsPending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every pending task and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, key)
	}
}
