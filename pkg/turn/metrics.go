package turn

import (
	"sync"
	"time"
)

const metricsHistory = 100

// Metrics tracks latency at each stage of one turn.
// All durations are measured from the moment the caller stopped talking.
type Metrics struct {
	SpeechEndTime  time.Time // VAD speech end
	CommitTime     time.Time // end of turn decided
	FirstTokenTime time.Time // first model token
	FirstAudioTime time.Time // first reply frame reached the sink
	DoneTime       time.Time // reply fully played

	Endpointing   time.Duration
	LLMFirstToken time.Duration
	FirstAudio    time.Duration
	TotalLatency  time.Duration
}

// MetricsCollector collects latency metrics across turns.
// It is goroutine-safe.
type MetricsCollector struct {
	mu      sync.Mutex
	current Metrics
	history []Metrics

	onUpdate func(Metrics)
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Metrics, 0, metricsHistory),
	}
}

// OnUpdate sets a callback that fires whenever metrics are updated.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// MarkSpeechEnd starts a new turn.
func (m *MetricsCollector) MarkSpeechEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Metrics{SpeechEndTime: time.Now()}
}

// MarkCommit records the end-of-turn decision.
func (m *MetricsCollector) MarkCommit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.CommitTime = time.Now()
	m.current.Endpointing = m.since(m.current.CommitTime)
	m.notify()
}

// MarkFirstToken records the first model token of the turn.
func (m *MetricsCollector) MarkFirstToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current.FirstTokenTime.IsZero() {
		return
	}
	m.current.FirstTokenTime = time.Now()
	m.current.LLMFirstToken = m.since(m.current.FirstTokenTime)
	m.notify()
}

// MarkFirstAudio records the first frame of the turn reaching the sink.
func (m *MetricsCollector) MarkFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current.FirstAudioTime.IsZero() {
		return
	}
	m.current.FirstAudioTime = time.Now()
	m.current.FirstAudio = m.since(m.current.FirstAudioTime)
	m.notify()
}

// MarkDone closes the turn and archives it.
func (m *MetricsCollector) MarkDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.DoneTime = time.Now()
	m.current.TotalLatency = m.since(m.current.DoneTime)
	m.history = append(m.history, m.current)
	if len(m.history) > metricsHistory {
		m.history = m.history[1:]
	}
	m.notify()
}

// Current returns the current metrics snapshot.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Turns returns how many turns were archived.
func (m *MetricsCollector) Turns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// Average returns average metrics over recent turns.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return Metrics{}
	}

	var avg Metrics
	for _, h := range m.history {
		avg.Endpointing += h.Endpointing
		avg.LLMFirstToken += h.LLMFirstToken
		avg.FirstAudio += h.FirstAudio
		avg.TotalLatency += h.TotalLatency
	}

	n := time.Duration(len(m.history))
	avg.Endpointing /= n
	avg.LLMFirstToken /= n
	avg.FirstAudio /= n
	avg.TotalLatency /= n

	return avg
}

// since must be called with mutex held.
func (m *MetricsCollector) since(t time.Time) time.Duration {
	if m.current.SpeechEndTime.IsZero() {
		return 0
	}
	return t.Sub(m.current.SpeechEndTime)
}

// notify must be called with mutex held.
func (m *MetricsCollector) notify() {
	if m.onUpdate != nil {
		metrics := m.current
		go m.onUpdate(metrics)
	}
}

// FormatLatency returns a formatted string of the turn's latencies.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.Endpointing) + " EOU | " +
		formatDuration(m.LLMFirstToken) + " LLM | " +
		formatDuration(m.FirstAudio) + " TTS | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
