package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima/engine/containers"
	"github.com/spaghettifunk/anima/engine/core"
)

/**
 * @brief A unit of background work. Start runs on a worker goroutine; Complete
 * runs on the main thread during Update with Start's result.
 */
type JobTask struct {
	Name     string
	Start    func() (interface{}, error)
	Complete func(result interface{}, err error)
}

type completion struct {
	task   JobTask
	result interface{}
	err    error
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup

	mu       sync.Mutex
	done     *containers.RingQueue[completion]
	overflow []completion
	// jobs the channel had no room for, oldest first
	backlog []JobTask
	closed  bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")

// NewJobSystem starts numWorkers goroutines. mainQueueSize bounds the completions
// buffered between two Update calls before they spill into a slower overflow list.
func NewJobSystem(numWorkers, channelSize, mainQueueSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 || mainQueueSize <= 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
		done:       containers.NewRingQueue[completion](mainQueueSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
				for {
					next, ok := js.takeBacklog()
					if !ok {
						break
					}
					js.run(next)
				}
			}
		}()
	}
}

func (js *JobSystem) run(job JobTask) {
	var result interface{}
	var err error
	if job.Start != nil {
		result, err = job.Start()
	}
	if err != nil {
		core.LogError("job '%s' failed: %s", job.Name, err)
	}
	js.complete(completion{task: job, result: result, err: err})
}

func (js *JobSystem) takeBacklog() (JobTask, bool) {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.closed || len(js.backlog) == 0 {
		return JobTask{}, false
	}
	job := js.backlog[0]
	js.backlog = js.backlog[1:]
	return job, true
}

// dispatchLocked hands backlogged jobs to the channel until it is full. Callers hold mu.
func (js *JobSystem) dispatchLocked() {
	for len(js.backlog) > 0 {
		select {
		case js.jobQueue <- js.backlog[0]:
			js.backlog = js.backlog[1:]
		default:
			return
		}
	}
}

func (js *JobSystem) complete(c completion) {
	js.mu.Lock()
	defer js.mu.Unlock()
	if err := js.done.Enqueue(c); err != nil {
		core.LogWarn("job completion queue full, deferring '%s'", c.task.Name)
		js.overflow = append(js.overflow, c)
	}
}

// Post schedules fn to run on the main thread during the next Update.
func (js *JobSystem) Post(name string, fn func()) {
	js.complete(completion{task: JobTask{Name: name, Complete: func(interface{}, error) { fn() }}})
}

/**
 * @brief Shuts the job system down. Jobs already handed to the channel still run and
 * their completions are dropped; backlogged jobs never start.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	if len(js.backlog) > 0 {
		core.LogDebug("job system shutting down, %d queued jobs dropped", len(js.backlog))
	}
	js.backlog = nil
	// every send happens under mu, so nothing can race the close
	close(js.jobQueue)
	js.mu.Unlock()
	js.wg.Wait()
	return nil
}

/**
 * @brief Runs the completion callbacks of finished jobs. Should happen once an
 * update cycle, on the main thread.
 * @returns the number of completions handled.
 */
func (js *JobSystem) Update() int {
	js.mu.Lock()
	if !js.closed {
		js.dispatchLocked()
	}
	var ready []completion
	for !js.done.IsEmpty() {
		c, _ := js.done.Dequeue()
		ready = append(ready, c)
	}
	ready = append(ready, js.overflow...)
	js.overflow = nil
	js.mu.Unlock()

	for _, c := range ready {
		if c.task.Complete != nil {
			c.task.Complete(c.result, c.err)
		}
	}
	return len(ready)
}

/**
 * @brief Queues the provided job for execution and returns immediately. Jobs the
 * channel has no room for wait in a backlog that idle workers and Update drain in
 * submission order.
 */
func (js *JobSystem) Submit(jt JobTask) {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.closed {
		core.LogWarn("job '%s' submitted after shutdown", jt.Name)
		return
	}
	js.backlog = append(js.backlog, jt)
	js.dispatchLocked()
}

// Backlog returns the number of submitted jobs not yet handed to a worker.
func (js *JobSystem) Backlog() int {
	js.mu.Lock()
	defer js.mu.Unlock()
	return len(js.backlog)
}
