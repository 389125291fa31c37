package queue

import (
	"time"

	"github.com/ternarybob/vetter/internal/common"
)

// Config holds the pool settings
type Config struct {
	// Capacity bounds the number of queued items
	Capacity int

	// Workers is the number of workers started with the pool
	Workers int

	// Elastic lets Submit add workers while the queue is backed up, up to MaxWorkers
	Elastic        bool
	MaxWorkers     int
	ScaleThreshold int

	// Stagger is the pause before each worker after the first, once its predecessor is ready
	Stagger time.Duration

	// ReadyWait bounds how long a worker waits for its predecessor's pre-login
	ReadyWait time.Duration

	// OverloadStagger delays worker i by (i-1)*OverloadStagger when the queue is backed up
	OverloadStagger time.Duration

	// JoinTimeout bounds how long Stop waits for in-flight items
	JoinTimeout time.Duration

	// PreLogin acquires each worker's session before it takes its first item
	PreLogin bool
}

// NewConfig reads the queue section
func NewConfig(cfg *common.Config) Config {
	q := cfg.Queue
	return Config{
		Capacity:        q.Capacity,
		Workers:         q.Workers,
		Elastic:         q.Elastic,
		MaxWorkers:      q.MaxWorkers,
		ScaleThreshold:  q.ScaleThreshold,
		Stagger:         common.ParseDuration(q.Stagger, 5*time.Second),
		ReadyWait:       common.ParseDuration(q.ReadyWait, 120*time.Second),
		OverloadStagger: common.ParseDuration(q.OverloadStagger, 5*time.Second),
		JoinTimeout:     common.ParseDuration(q.JoinTimeout, 30*time.Second),
		PreLogin:        q.PreLogin,
	}
}

// NewDefaultConfig creates a single-worker configuration
func NewDefaultConfig() Config {
	return NewConfig(common.NewDefaultConfig())
}
