package loop

import (
	"container/heap"
	"time"
)

type timer struct {
	at   time.Time
	task *Task
	seq  uint64
}

// timerQueue is a min-heap of sleeping tasks ordered by wake-up time.
// Entries whose seq no longer matches the task are stale and skipped.
type timerQueue []timer

func (q timerQueue) Len() int { return len(q) }
func (q timerQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].task.id < q[j].task.id
	}
	return q[i].at.Before(q[j].at)
}
func (q timerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *timerQueue) Push(x any) { *q = append(*q, x.(timer)) }

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = timer{}
	*q = old[:n-1]
	return item
}

func (q *timerQueue) schedule(t timer) { heap.Push(q, t) }

func (q timerQueue) next() (time.Time, bool) {
	if len(q) == 0 {
		return time.Time{}, false
	}
	return q[0].at, true
}

// due pops every timer that expired at or before now.
func (q *timerQueue) due(now time.Time) []timer {
	var out []timer
	for q.Len() > 0 && !(*q)[0].at.After(now) {
		out = append(out, heap.Pop(q).(timer))
	}
	return out
}
