package bridge

import (
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-scripts/internal/engine"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/mqtt"
)

// StatsMessage is the retained payload on graylogic/scripts/stats.
type StatsMessage struct {
	Live          int    `json:"live"`
	Running       int    `json:"running"`
	Max           int    `json:"max"`
	SoftThreshold int    `json:"soft_threshold"`
	Listeners     int    `json:"listeners"`
	OldestMS      int64  `json:"oldest_ms"`
	ShuttingDown  bool   `json:"shutting_down"`
	Timestamp     string `json:"timestamp"`
}

// StatsPublisher publishes engine slot statistics over MQTT. It implements
// engine.Metrics; executions are left to the time-series sink.
type StatsPublisher struct {
	mqtt MQTTClient
	now  func() time.Time

	mu   sync.Mutex
	last engine.Stats
	sent bool

	logger Logger
}

// NewStatsPublisher creates a publisher writing to client.
func NewStatsPublisher(client MQTTClient) *StatsPublisher {
	return &StatsPublisher{mqtt: client, now: time.Now}
}

// SetLogger sets the logger for publish failures.
func (p *StatsPublisher) SetLogger(logger Logger) {
	p.logger = logger
}

// RecordExecution implements engine.Metrics.
func (p *StatsPublisher) RecordExecution(string, string, int, time.Duration) {}

// RecordSlots publishes stats when the slot counts changed since the last
// successful publish.
func (p *StatsPublisher) RecordSlots(stats engine.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := stats
	key.Oldest = 0
	if p.sent && key == p.last {
		return
	}

	msg := StatsMessage{
		Live:          stats.Live,
		Running:       stats.Running,
		Max:           stats.Max,
		SoftThreshold: stats.SoftThreshold,
		Listeners:     stats.Listeners,
		OldestMS:      stats.Oldest.Milliseconds(),
		ShuttingDown:  stats.ShuttingDown,
		Timestamp:     p.now().UTC().Format(time.RFC3339),
	}
	if err := p.mqtt.PublishJSON(mqtt.Topics{}.ScriptsStats(), msg, true); err != nil {
		if p.logger != nil {
			p.logger.Warn("failed to publish engine stats", "error", err)
		}
		return
	}
	p.last = key
	p.sent = true
}
