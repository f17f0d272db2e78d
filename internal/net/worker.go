package net

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	TASK_CHAN_SIZE = 100
)

type WorkerFunction = func(t *tomb.Tomb, task any) error
type WorkerPool struct {
	n     int      // number of workers
	tasks chan any // task connection pool
}

func NewWorkerPool(size int) WorkerPool {
	if size < 1 {
		size = 1
	}
	return WorkerPool{
		n:     size,
		tasks: make(chan any, TASK_CHAN_SIZE),
	}
}

// Setup starts the workers under the tomb. Each worker keeps taking tasks
// until the tomb starts dying.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	for id := range pool.n {
		t.Go(func() error {
			return pool.worker(t, id, work)
		})
	}
}

// AddTask queues a task, blocking while the queue is full. It reports false if
// the tomb died before the task was queued.
func (pool *WorkerPool) AddTask(t *tomb.Tomb, task any) bool {
	select {
	case pool.tasks <- task:
		return true
	case <-t.Dying():
		return false
	}
}

// Workers wait on tasks in the task connection pool and action them.
func (pool *WorkerPool) worker(t *tomb.Tomb, id int, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Int("id", id).Msg("worker exiting")
				return err
			}
		}
	}
}
