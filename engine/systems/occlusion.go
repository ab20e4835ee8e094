package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/model"
	"github.com/spaghettifunk/anima/engine/renderer"
)

/**
 * @brief Occlusion query slots. Every variant owns one slot; each frame in flight
 * has its own contiguous range of capacity queries, so the query of a slot in
 * frame f is f*capacity + slot.
 */
type QueryPool struct {
	backend        renderer.RendererBackend
	pool           renderer.QueryPoolHandle
	capacity       uint32
	framesInFlight uint32
	owners         []*model.Variant
	// issued[f][slot] is set once the current owner of slot recorded a query in
	// frame range f since that range was last reset.
	issued [][]bool
	used   int
}

func NewQueryPool(backend renderer.RendererBackend, capacity, framesInFlight uint32) (*QueryPool, error) {
	if capacity == 0 || framesInFlight == 0 {
		return nil, fmt.Errorf("%w: query pool needs a capacity and at least one frame in flight", core.ErrInvalidConfig)
	}
	pool, err := backend.CreateQueryPool(capacity * framesInFlight)
	if err != nil {
		return nil, err
	}
	issued := make([][]bool, framesInFlight)
	for f := range issued {
		issued[f] = make([]bool, capacity)
	}
	return &QueryPool{
		backend:        backend,
		pool:           pool,
		capacity:       capacity,
		framesInFlight: framesInFlight,
		owners:         make([]*model.Variant, capacity),
		issued:         issued,
	}, nil
}

func (qp *QueryPool) Handle() renderer.QueryPoolHandle {
	return qp.pool
}

func (qp *QueryPool) Used() int {
	return qp.used
}

/**
 * @brief Takes the first free slot for v. Running out of slots means the pool was
 * sized below the variant count the application creates, which is a programming
 * error.
 */
func (qp *QueryPool) Acquire(v *model.Variant) int {
	for i, owner := range qp.owners {
		if owner == nil {
			qp.owners[i] = v
			qp.used++
			// results still in the pool belong to the previous owner
			for f := range qp.issued {
				qp.issued[f][i] = false
			}
			v.QuerySlot = i
			return i
		}
	}
	panic(fmt.Errorf("%w: all %d slots are in use", core.ErrQueryPoolExhausted, qp.capacity))
}

func (qp *QueryPool) Release(v *model.Variant) {
	slot := v.QuerySlot
	if slot < 0 || slot >= len(qp.owners) || qp.owners[slot] != v {
		core.LogWarn("query slot %d of variant %s is not owned by it. Nothing was done", slot, v.ID)
		return
	}
	qp.owners[slot] = nil
	qp.used--
	v.QuerySlot = -1
}

func (qp *QueryPool) index(frameIndex uint32, slot int) uint32 {
	return frameIndex*qp.capacity + uint32(slot)
}

/**
 * @brief Reads, without waiting, the results recorded the last time this frame slot
 * was used. BeginFrame already waited on that frame's fence, so its range is no
 * longer in use by the device. Must run before Reset. A variant without a result of
 * its own is treated as visible.
 */
func (qp *QueryPool) Poll(frameIndex uint32) {
	for slot, v := range qp.owners {
		if v == nil {
			continue
		}
		if !qp.issued[frameIndex][slot] {
			v.Occluded = false
			continue
		}
		samples, ok := qp.backend.PollQuery(qp.pool, qp.index(frameIndex, slot))
		v.Occluded = ok && samples == 0
	}
}

// Reset clears this frame's range. Must be recorded outside of a pass.
func (qp *QueryPool) Reset(cmd renderer.CommandRecorder, frameIndex uint32) {
	cmd.ResetQueries(qp.pool, qp.index(frameIndex, 0), qp.capacity)
	clear(qp.issued[frameIndex])
}

func (qp *QueryPool) Begin(cmd renderer.CommandRecorder, frameIndex uint32, v *model.Variant) {
	cmd.BeginQuery(qp.pool, qp.index(frameIndex, v.QuerySlot))
	qp.issued[frameIndex][v.QuerySlot] = true
}

func (qp *QueryPool) End(cmd renderer.CommandRecorder, frameIndex uint32, v *model.Variant) {
	cmd.EndQuery(qp.pool, qp.index(frameIndex, v.QuerySlot))
}

func (qp *QueryPool) Shutdown() error {
	qp.backend.DestroyQueryPool(qp.pool)
	for i := range qp.owners {
		qp.owners[i] = nil
	}
	for f := range qp.issued {
		clear(qp.issued[f])
	}
	qp.used = 0
	return nil
}
