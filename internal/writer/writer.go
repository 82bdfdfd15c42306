// Package writer implements the per-connection outbound queue: an ordered
// sequence of WriteJobs drained head-of-line, non-blocking, with the
// connection's write interest kept in sync with whether the queue is empty.
package writer

import (
	"errors"
	"sync"

	"github.com/eapache/queue"

	"github.com/ashgrove/reactor/api"
)

// ErrWouldBlock signals that a write returned no progress because the
// socket is non-blocking and its send buffer is full. Not an error: the
// caller simply waits for the next write-readiness event.
var ErrWouldBlock = errors.New("writer: would block")

// queueCapacity bounds how many WriteJobs may be pending on one connection
// before Enqueue reports overflow. The wire format places no bound on how
// many responses a slow client can accumulate; SPEC_FULL.md leaves capping
// unspecified but permitted, so a caller that sees Enqueue return false
// should treat it as cause to close the connection rather than buffer
// forever.
const queueCapacity = 4096

// WriteJob is one outbound buffer in flight. Buffer is the complete framed
// response (size prefix already prepended by NewSizeHeaderJob); BytesWritten
// tracks how much of it has reached the socket so far.
type WriteJob struct {
	Buffer       []byte
	BytesWritten int
}

// Done reports whether the job's buffer has been fully written.
func (j *WriteJob) Done() bool {
	return j.BytesWritten >= len(j.Buffer)
}

// Remaining returns the slice of Buffer not yet written.
func (j *WriteJob) Remaining() []byte {
	return j.Buffer[j.BytesWritten:]
}

// rawWriter issues one non-blocking write syscall against fd. Swapped out in
// tests; backed by platformWrite in production.
type rawWriter func(fd int32, p []byte) (int, error)

// Queue is a connection's thread-safe outbound FIFO: appended to by the
// reactor (a sync handler's reply) or the async reaper (a completed async
// result), drained only by the reactor. jobs is a growable ring buffer
// rather than a lock-free structure, since Handle needs to peek and mutate
// the head job in place across possibly several partial writes — storing
// *WriteJob means that mutation never requires removing and reinserting,
// so a plain mutex around the ring is enough.
type Queue struct {
	mu         sync.Mutex
	jobs       *queue.Queue
	fd         int32
	write      rawWriter
	onNonEmpty func()
	onEmpty    func()
}

// NewQueue constructs a Queue bound to fd. onNonEmpty and onEmpty are called
// (on whichever goroutine triggered the transition) whenever the queue
// becomes non-empty or empty respectively, so the caller can keep the
// connection's epoll write interest and wakeup in sync (SPEC_FULL.md §5).
func NewQueue(fd int32, onNonEmpty, onEmpty func()) *Queue {
	return &Queue{
		fd:         fd,
		jobs:       queue.New(),
		write:      platformWrite,
		onNonEmpty: onNonEmpty,
		onEmpty:    onEmpty,
	}
}

// Enqueue appends job to the tail of the queue and, if the queue was empty,
// signals onNonEmpty so the caller can arm write-readiness and post a
// wakeup. It returns false if the queue is at capacity, which the caller
// should treat as cause to close the connection.
func (q *Queue) Enqueue(job *WriteJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs.Length() >= queueCapacity {
		return false
	}
	wasEmpty := q.jobs.Length() == 0
	q.jobs.Add(job)
	if wasEmpty && q.onNonEmpty != nil {
		q.onNonEmpty()
	}
	return true
}

// SetWriter overrides the raw write function, e.g. to wrap it with
// instrumentation or, in tests, to replace the socket with an in-memory
// sink. The default is a non-blocking write against fd.
func (q *Queue) SetWriter(w func(fd int32, p []byte) (int, error)) {
	q.write = w
}

// Empty reports whether the queue currently holds no jobs.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Length() == 0
}

// Handle is invoked when the reactor reports write readiness for this
// connection's fd. It writes from the head job until either the socket
// would block or the job's buffer is drained, popping drained jobs and
// continuing to the next, all without blocking. If the queue drains to
// empty it signals onEmpty so the caller can clear write interest.
func (q *Queue) Handle() error {
	for {
		job := q.peekHead()
		if job == nil {
			return nil
		}
		n, err := q.write(q.fd, job.Remaining())
		if err == ErrWouldBlock {
			return nil
		}
		if err != nil {
			return api.NewFrameError(api.KindIOFailure, err)
		}
		job.BytesWritten += n
		if job.Done() {
			q.popHead()
		}
	}
}

func (q *Queue) peekHead() *WriteJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs.Length() == 0 {
		return nil
	}
	return q.jobs.Peek().(*WriteJob)
}

func (q *Queue) popHead() {
	q.mu.Lock()
	q.jobs.Remove()
	empty := q.jobs.Length() == 0
	q.mu.Unlock()
	if empty && q.onEmpty != nil {
		q.onEmpty()
	}
}
