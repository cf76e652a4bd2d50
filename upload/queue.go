package upload

import "time"

// task is a deferred unit of upload work.
type task struct {
	id        string
	fn        func() error
	size      int64
	priority  int
	seq       uint64
	submitted time.Time
	release   func()
}

// taskQueue is a slice-backed binary heap. Higher priority sorts first;
// equal priorities sort by ascending sequence number, so submission order is
// preserved within a priority class.
type taskQueue struct {
	items []task
}

func newTaskQueue(capacity int) *taskQueue {
	return &taskQueue{items: make([]task, 0, capacity)}
}

func (q *taskQueue) Len() int { return len(q.items) }

func (q *taskQueue) push(t task) {
	q.items = append(q.items, t)
	q.siftUp(len(q.items) - 1)
}

func (q *taskQueue) pop() (task, bool) {
	n := len(q.items)
	if n == 0 {
		return task{}, false
	}
	root := q.items[0]
	last := q.items[n-1]
	q.items[n-1] = task{}
	q.items = q.items[:n-1]
	if n-1 > 0 {
		q.items[0] = last
		q.siftDown(0)
	}
	return root, true
}

func (q *taskQueue) peek() (task, bool) {
	if len(q.items) == 0 {
		return task{}, false
	}
	return q.items[0], true
}

func (q *taskQueue) less(i, j int) bool {
	if q.items[i].priority != q.items[j].priority {
		return q.items[i].priority > q.items[j].priority
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *taskQueue) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !q.less(i, p) {
			return
		}
		q.items[i], q.items[p] = q.items[p], q.items[i]
		i = p
	}
}

func (q *taskQueue) siftDown(i int) {
	n := len(q.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && q.less(r, l) {
			best = r
		}
		if !q.less(best, i) {
			return
		}
		q.items[i], q.items[best] = q.items[best], q.items[i]
		i = best
	}
}

// pendingBytes sums the payload sizes of all queued tasks.
func (q *taskQueue) pendingBytes() int64 {
	var total int64
	for _, t := range q.items {
		total += t.size
	}
	return total
}
