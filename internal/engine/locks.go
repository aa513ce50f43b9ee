package engine

import "sync"

// workflowLocks serializes mutating operations per workflow ID. Signing,
// routing, cancellation and reminder snapshots for the same workflow never
// interleave; operations on distinct workflows proceed in parallel.
type workflowLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newWorkflowLocks() *workflowLocks {
	return &workflowLocks{m: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for the given workflow ID and returns the
// matching unlock function.
func (l *workflowLocks) lock(workflowID string) func() {
	l.mu.Lock()
	wm, ok := l.m[workflowID]
	if !ok {
		wm = &sync.Mutex{}
		l.m[workflowID] = wm
	}
	l.mu.Unlock()

	wm.Lock()
	return wm.Unlock
}
