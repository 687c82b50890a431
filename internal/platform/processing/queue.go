package processing

// serialQueue executes tasks one at a time in submission order. Two queues
// run concurrently with respect to each other but serially within
// themselves.
type serialQueue struct {
	tasks chan func()
	stop  chan struct{}
}

func newSerialQueue(buffer int) *serialQueue {
	return &serialQueue{
		tasks: make(chan func(), buffer),
		stop:  make(chan struct{}),
	}
}

// run drains the queue until close. Call from a dedicated goroutine.
func (q *serialQueue) run() {
	for {
		select {
		case <-q.stop:
			return
		case task := <-q.tasks:
			task()
		}
	}
}

// enqueue submits a task. Returns false once the queue has shut down.
func (q *serialQueue) enqueue(task func()) bool {
	select {
	case <-q.stop:
		return false
	case q.tasks <- task:
		return true
	}
}

func (q *serialQueue) shutdown() {
	close(q.stop)
}
