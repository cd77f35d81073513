package syncwindow

import (
	"container/heap"
	"time"
)

type deadline struct {
	accountID string
	at        time.Time
	index     int
}

type deadlineHeap []*deadline

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	d := x.(*deadline)
	d.index = len(*h)
	*h = append(*h, d)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	d.index = -1
	*h = old[:n-1]
	return d
}

// Deadlines is a min-heap of per-account idle deadlines, one entry per account.
// Not safe for concurrent use; each worker owns one.
type Deadlines struct {
	h     deadlineHeap
	index map[string]*deadline
}

func NewDeadlines() *Deadlines {
	return &Deadlines{index: make(map[string]*deadline)}
}

// Arm sets or moves the account's deadline.
func (d *Deadlines) Arm(accountID string, at time.Time) {
	if e, ok := d.index[accountID]; ok {
		e.at = at
		heap.Fix(&d.h, e.index)
		return
	}
	e := &deadline{accountID: accountID, at: at}
	heap.Push(&d.h, e)
	d.index[accountID] = e
}

// Armed reports whether the account has a pending deadline.
func (d *Deadlines) Armed(accountID string) bool {
	_, ok := d.index[accountID]
	return ok
}

func (d *Deadlines) Clear(accountID string) {
	e, ok := d.index[accountID]
	if !ok {
		return
	}
	heap.Remove(&d.h, e.index)
	delete(d.index, accountID)
}

// PopDue removes and returns every account whose deadline is at or before now,
// earliest first.
func (d *Deadlines) PopDue(now time.Time) []string {
	var due []string
	for d.h.Len() > 0 && !d.h[0].at.After(now) {
		e := heap.Pop(&d.h).(*deadline)
		delete(d.index, e.accountID)
		due = append(due, e.accountID)
	}
	return due
}

// PopAll empties the heap, earliest first.
func (d *Deadlines) PopAll() []string {
	all := make([]string, 0, d.h.Len())
	for d.h.Len() > 0 {
		e := heap.Pop(&d.h).(*deadline)
		delete(d.index, e.accountID)
		all = append(all, e.accountID)
	}
	return all
}

// Next returns the earliest deadline.
func (d *Deadlines) Next() (time.Time, bool) {
	if d.h.Len() == 0 {
		return time.Time{}, false
	}
	return d.h[0].at, true
}

func (d *Deadlines) Len() int {
	return d.h.Len()
}
