package timer

import (
	"container/heap"
	"sort"
	"time"
)

type entry struct {
	job   Job
	index int
}

// table is the in-memory job table: a map for key lookups plus a min-heap on
// (DueAt, Seq) for the loop. Callers hold Core.mu.
type table struct {
	byKey map[Key]*entry
	queue jobHeap
	seq   uint64
}

func newTable() *table {
	return &table{byKey: make(map[Key]*entry)}
}

// put inserts job and returns the job it replaced, if any.
func (t *table) put(job Job) (Job, bool) {
	old, replaced := t.remove(job.Key)
	t.seq++
	job.Seq = t.seq
	e := &entry{job: job}
	t.byKey[job.Key] = e
	heap.Push(&t.queue, e)
	return old, replaced
}

func (t *table) remove(key Key) (Job, bool) {
	e, ok := t.byKey[key]
	if !ok {
		return Job{}, false
	}
	delete(t.byKey, key)
	heap.Remove(&t.queue, e.index)
	return e.job, true
}

func (t *table) get(key Key) (Job, bool) {
	e, ok := t.byKey[key]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// popDue removes and returns every job due at or before now, earliest first.
func (t *table) popDue(now time.Time) []Job {
	var out []Job
	for t.queue.Len() > 0 {
		e := t.queue[0]
		if e.job.DueAt.After(now) {
			break
		}
		heap.Pop(&t.queue)
		delete(t.byKey, e.job.Key)
		out = append(out, e.job)
	}
	return out
}

func (t *table) next() (time.Time, bool) {
	if t.queue.Len() == 0 {
		return time.Time{}, false
	}
	return t.queue[0].job.DueAt, true
}

func (t *table) len() int { return len(t.byKey) }

// list returns pending jobs in firing order.
func (t *table) list() []Job {
	out := make([]Job, 0, len(t.byKey))
	for _, e := range t.byKey {
		out = append(out, e.job)
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i], out[j]) })
	return out
}

func before(a, b Job) bool {
	if !a.DueAt.Equal(b.DueAt) {
		return a.DueAt.Before(b.DueAt)
	}
	return a.Seq < b.Seq
}

type jobHeap []*entry

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return before(h[i].job, h[j].job) }
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
