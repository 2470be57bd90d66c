package session

import (
	"sync"
	"time"

	"github.com/user/sandboxtools/internal/job"
)

// Jobs is the PID-keyed registry for fire-and-forget jobs. PIDs are already
// unique, so no naming policy is needed.
type Jobs struct {
	mu   sync.Mutex
	jobs map[int]*job.Job
}

func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[int]*job.Job)}
}

// Add registers a started job under its pid.
func (js *Jobs) Add(j *job.Job) {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.jobs[j.Pid()] = j
}

// Get resolves a job by pid.
func (js *Jobs) Get(pid int) (*job.Job, bool) {
	js.mu.Lock()
	defer js.mu.Unlock()
	j, ok := js.jobs[pid]
	return j, ok
}

// Remove deletes the job and reports whether this call performed the
// removal. Under a poll/kill race both observers may attempt cleanup; the
// second attempt is a harmless no-op.
func (js *Jobs) Remove(pid int) bool {
	js.mu.Lock()
	defer js.mu.Unlock()
	if _, ok := js.jobs[pid]; !ok {
		return false
	}
	delete(js.jobs, pid)
	return true
}

// KillAll terminates every registered job; used at daemon shutdown.
func (js *Jobs) KillAll(timeout time.Duration) {
	js.mu.Lock()
	jobs := make([]*job.Job, 0, len(js.jobs))
	for _, j := range js.jobs {
		jobs = append(jobs, j)
	}
	js.jobs = make(map[int]*job.Job)
	js.mu.Unlock()

	for _, j := range jobs {
		j.Kill(timeout)
	}
}
