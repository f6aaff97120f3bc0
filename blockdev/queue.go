package blockdev

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// request is one pending disk I/O, queued FIFO. done
// receives the completion error; this is the channel-based stand-in
// for "wakeup(buf)" on interrupt.
type request struct {
	write   bool
	blockno uint32
	data    []byte
	dev     Device
	done    chan error
}

// Queue is a FIFO disk request queue (idequeue in the original
// kernel), one queue shared by every device submitted to it. A single
// consumer goroutine drains it in submission order: no reordering of
// requests, whichever device they target.
// The channel itself is the queue; requests are never dropped,
// matching the original's linked-list queue.
type Queue struct {
	items chan *request
}

// NewQueue returns a disk queue ready to accept submissions once Run
// is started.
func NewQueue() *Queue {
	return &Queue{items: make(chan *request, 4096)}
}

// Submit enqueues a block read or write and blocks until the consumer
// goroutine started by Run has completed it, returning any I/O error.
func (q *Queue) Submit(dev Device, write bool, blockno uint32, data []byte) error {
	req := &request{write: write, blockno: blockno, data: data, dev: dev, done: make(chan error, 1)}
	q.items <- req
	return <-req.done
}

// Run drains the queue in FIFO order until ctx is cancelled or Close
// is called. It is the interrupt-handler stand-in: each request is
// serviced synchronously against its device before the next is
// started.
func (q *Queue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case req, ok := <-q.items:
				if !ok {
					return nil
				}
				var err error
				if req.write {
					err = req.dev.WriteBlock(req.blockno, req.data)
				} else {
					err = req.dev.ReadBlock(req.blockno, req.data)
				}
				req.done <- err
			}
		}
	})
	return g.Wait()
}

// Close stops Run once the currently queued requests are drained.
func (q *Queue) Close() {
	close(q.items)
}
