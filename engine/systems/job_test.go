package systems

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobSystemValidatesSizes(t *testing.T) {
	_, err := NewJobSystem(0, 1, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1, 1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestJobCompletionsRunOnUpdate(t *testing.T) {
	js, err := NewJobSystem(2, 4, 8)
	require.NoError(t, err)
	defer js.Shutdown()

	var completed atomic.Int32
	var gotErr error
	js.Submit(JobTask{
		Name:  "ok",
		Start: func() (interface{}, error) { return 21 * 2, nil },
		Complete: func(result interface{}, err error) {
			assert.Equal(t, 42, result)
			completed.Add(1)
		},
	})
	js.Submit(JobTask{
		Name:     "failing",
		Start:    func() (interface{}, error) { return nil, errors.New("boom") },
		Complete: func(_ interface{}, err error) { gotErr = err; completed.Add(1) },
	})

	// workers never run completions themselves
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), completed.Load())

	require.Eventually(t, func() bool {
		js.Update()
		return completed.Load() == 2
	}, time.Second, time.Millisecond)
	assert.EqualError(t, gotErr, "boom")
}

func TestJobCompletionsOverflowIntoLaterUpdate(t *testing.T) {
	js, err := NewJobSystem(1, 8, 2)
	require.NoError(t, err)
	defer js.Shutdown()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		js.Post("post", func() { order = append(order, i) })
	}
	assert.Equal(t, 5, js.Update())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, js.Update())
}

func TestSubmitAfterShutdownIsDropped(t *testing.T) {
	js, err := NewJobSystem(1, 1, 1)
	require.NoError(t, err)
	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())

	ran := false
	js.Submit(JobTask{Name: "late", Start: func() (interface{}, error) { ran = true; return nil, nil }})
	assert.Equal(t, 0, js.Update())
	assert.False(t, ran)
}

func TestSubmitQueuesWhenEveryWorkerIsBusy(t *testing.T) {
	js, err := NewJobSystem(1, 0, 4)
	require.NoError(t, err)

	gate := make(chan struct{})
	var started, completed atomic.Int32
	task := JobTask{
		Name:     "gated",
		Start:    func() (interface{}, error) { started.Add(1); <-gate; return nil, nil },
		Complete: func(interface{}, error) { completed.Add(1) },
	}

	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		for i := 0; i < 3; i++ {
			js.Submit(task)
		}
	}()
	select {
	case <-submitted:
	case <-time.After(time.Second):
		close(gate)
		t.Fatal("Submit waited for a worker")
	}
	// one worker holds at most one job
	assert.GreaterOrEqual(t, js.Backlog(), 2)

	close(gate)
	require.Eventually(t, func() bool {
		js.Update()
		return completed.Load() == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), started.Load())
	require.NoError(t, js.Shutdown())
}

func TestShutdownDropsBackloggedJobs(t *testing.T) {
	js, err := NewJobSystem(1, 0, 4)
	require.NoError(t, err)

	gate := make(chan struct{})
	var started atomic.Int32
	for i := 0; i < 3; i++ {
		js.Submit(JobTask{Name: "gated", Start: func() (interface{}, error) { started.Add(1); <-gate; return nil, nil }})
	}
	// release the running job only once Shutdown has closed the queue
	go func() {
		for {
			js.mu.Lock()
			closed := js.closed
			js.mu.Unlock()
			if closed {
				close(gate)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	assert.NotPanics(t, func() { require.NoError(t, js.Shutdown()) })
	assert.LessOrEqual(t, started.Load(), int32(1))
	assert.Equal(t, 0, js.Backlog())
	assert.NotPanics(t, func() { js.Submit(JobTask{Name: "late"}) })
}
