// Package worker provides a fixed-size goroutine pool over a buffered
// job channel. The uploader runs its batch builders on one, and the
// push service fans command results through another.
package worker

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/luzzy/message-sync/pkg/logger"
)

type WorkerHandler = func(workerIndex int, job interface{})

type WorkerManager struct {
	jobChannel     chan interface{}
	numberOfWorker int
	sigTerm        chan os.Signal
	do             WorkerHandler
	waiter         *sync.WaitGroup
}

// NewWorkerManager sets up a pool of numberOfWorkers goroutines fed by
// a channel of the given buffer size. Set the handler with SetWorker,
// then Start blocks until Exit is called. The job channel is never
// closed; Exit drains the workers through the signal channel instead.
func NewWorkerManager(bufferSize, numberOfWorkers int) *WorkerManager {
	// one buffered slot per worker so Exit cannot lose a stop signal
	// sent before a worker reaches its select
	var sigChan = make(chan os.Signal, numberOfWorkers)
	signal.Notify(sigChan, syscall.SIGTERM)

	return &WorkerManager{
		numberOfWorker: numberOfWorkers,
		jobChannel:     make(chan interface{}, bufferSize),
		sigTerm:        sigChan,
		waiter:         &sync.WaitGroup{},
	}
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

// Enqueue hands a job to the pool, blocking when the buffer is full.
func (w *WorkerManager) Enqueue(val interface{}) {
	w.jobChannel <- val
}

// Start runs the workers and blocks until they all stop.
func (w *WorkerManager) Start() error {
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			for {
				select {
				case job := <-w.jobChannel:
					w.do(index, job)
				case <-w.sigTerm:
					w.waiter.Done()
					return
				}
			}
		}(i)
	}
	w.waiter.Wait()

	return errors.New("workers terminated")
}

// Exit stops every worker. Jobs still buffered in the channel are
// left behind, so callers should stop producing first.
func (w *WorkerManager) Exit() {
	logger.Info("worker manager shutting down")
	for i := 0; i < w.numberOfWorker; i++ {
		w.sigTerm <- syscall.SIGSTOP
	}
}
