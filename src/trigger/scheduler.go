package trigger

import (
	"sync"
)

// Job is one admitted run as seen by the scheduler.
type Job struct {
	ID  string
	Ref string

	// Run executes the job. The scheduler calls it on its own goroutine and
	// frees the ref slot when it returns.
	Run func()

	// Cancel asks a running job to stop at its next stage boundary.
	Cancel func()

	// Discard is called instead of Run when a queued job is superseded or
	// cancelled before it starts.
	Discard func()
}

type refState struct {
	running []*Job
	queue   []*Job
}

// Scheduler enforces the per-ref concurrency policy. With Limit 0 every job
// starts at once; otherwise at most Limit jobs per ref run and the rest wait
// in arrival order.
type Scheduler struct {
	Limit            int
	CancelInProgress bool

	mu   sync.Mutex
	refs map[string]*refState
}

// NewScheduler builds a scheduler from the trigger policy.
func NewScheduler(limit int, cancelInProgress bool) *Scheduler {
	return &Scheduler{Limit: limit, CancelInProgress: cancelInProgress}
}

// Submit hands a job to the scheduler. It never blocks on the job.
func (s *Scheduler) Submit(j *Job) {
	ref := CanonicalRef(j.Ref)

	s.mu.Lock()
	if s.refs == nil {
		s.refs = make(map[string]*refState)
	}
	st := s.refs[ref]
	if st == nil {
		st = &refState{}
		s.refs[ref] = st
	}

	var discarded, cancelled []*Job
	if s.CancelInProgress {
		discarded = st.queue
		st.queue = nil
		cancelled = append(cancelled, st.running...)
	}

	start := s.Limit <= 0 || len(st.running) < s.Limit
	if start {
		st.running = append(st.running, j)
	} else {
		st.queue = append(st.queue, j)
	}
	s.mu.Unlock()

	for _, d := range discarded {
		callIf(d.Discard)
	}
	for _, c := range cancelled {
		callIf(c.Cancel)
	}
	if start {
		s.launch(ref, j)
	}
}

// Cancel cancels the job with the given id: a queued job is discarded, a
// running one is asked to stop. Reports whether the job was found.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	for _, st := range s.refs {
		for i, j := range st.queue {
			if j.ID == id {
				st.queue = append(st.queue[:i], st.queue[i+1:]...)
				s.mu.Unlock()
				callIf(j.Discard)
				return true
			}
		}
		for _, j := range st.running {
			if j.ID == id {
				s.mu.Unlock()
				callIf(j.Cancel)
				return true
			}
		}
	}
	s.mu.Unlock()
	return false
}

// Pending returns the number of queued jobs for ref.
func (s *Scheduler) Pending(ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.refs[CanonicalRef(ref)]; st != nil {
		return len(st.queue)
	}
	return 0
}

func (s *Scheduler) launch(ref string, j *Job) {
	go func() {
		callIf(j.Run)
		s.finish(ref, j)
	}()
}

func (s *Scheduler) finish(ref string, done *Job) {
	s.mu.Lock()
	st := s.refs[ref]
	for i, j := range st.running {
		if j == done {
			st.running = append(st.running[:i], st.running[i+1:]...)
			break
		}
	}

	var next []*Job
	for len(st.queue) > 0 && (s.Limit <= 0 || len(st.running) < s.Limit) {
		j := st.queue[0]
		st.queue = st.queue[1:]
		st.running = append(st.running, j)
		next = append(next, j)
	}
	if len(st.running) == 0 && len(st.queue) == 0 {
		delete(s.refs, ref)
	}
	s.mu.Unlock()

	for _, j := range next {
		s.launch(ref, j)
	}
}

func callIf(f func()) {
	if f != nil {
		f()
	}
}
