package core

const AVG_COUNT uint8 = 30

// PassStats counts the GPU work one pass recorded during a frame.
type PassStats struct {
	Draws      uint32
	Dispatches uint32
	Skipped    uint32
}

// Metrics keeps a rolling frame-time average and the per-pass counters of the last frame.
type Metrics struct {
	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	passes map[string]PassStats
}

func NewMetrics() *Metrics {
	return &Metrics{
		passes: make(map[string]PassStats),
	}
}

func (m *Metrics) Update(frameElapsedTime float64) {
	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.msAvg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.msAvg += m.msTimes[i]
		}
		m.msAvg /= float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	// Count all Frames.
	m.frames++
}

// ResetPasses clears the per-pass counters; called when a new frame starts recording.
func (m *Metrics) ResetPasses() {
	for k := range m.passes {
		delete(m.passes, k)
	}
}

func (m *Metrics) RecordDraw(pass string) {
	s := m.passes[pass]
	s.Draws++
	m.passes[pass] = s
}

func (m *Metrics) RecordDispatch(pass string) {
	s := m.passes[pass]
	s.Dispatches++
	m.passes[pass] = s
}

func (m *Metrics) RecordSkip(pass string) {
	s := m.passes[pass]
	s.Skipped++
	m.passes[pass] = s
}

func (m *Metrics) Pass(pass string) PassStats {
	return m.passes[pass]
}

func (m *Metrics) FPS() float64 {
	return m.fps
}

func (m *Metrics) FrameTime() float64 {
	return m.msAvg
}
