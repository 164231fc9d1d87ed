// Package clicks implements best-effort click recording as a bounded work
// queue: redirects submit events without blocking, a batcher groups them,
// and workers persist batches with bounded retries. A click that cannot
// be recorded is logged and dropped, never surfaced to the redirect.
package clicks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cliply/cliply/internal/links"
	"github.com/cliply/cliply/internal/metrics"
)

// Sink persists click batches. The repository treats the event append and
// the counter increment as one transaction per batch.
type Sink interface {
	RecordClicks(ctx context.Context, events []links.ClickEvent) error
}

type Config struct {
	Workers    int
	QueueSize  int
	BatchSize  int
	FlushEvery time.Duration
	MaxRetries int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
}

type Pool struct {
	cfg        Config
	sink       Sink
	jobQueue   chan links.ClickEvent
	batchQueue chan []links.ClickEvent
	quit       chan struct{}
	wg         sync.WaitGroup
}

func New(sink Sink, cfg Config) *Pool {
	cfg.applyDefaults()
	return &Pool{
		cfg:        cfg,
		sink:       sink,
		jobQueue:   make(chan links.ClickEvent, cfg.QueueSize),
		batchQueue: make(chan []links.ClickEvent, cfg.Workers*2),
		quit:       make(chan struct{}),
	}
}

func (p *Pool) Start() {
	p.wg.Add(1)
	go p.batcher()

	p.wg.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go p.worker(i)
	}
}

// Submit enqueues a click event without blocking. A full queue drops the
// event: the redirect already succeeded and must not wait.
func (p *Pool) Submit(ev links.ClickEvent) {
	select {
	case <-p.quit:
		return
	default:
	}

	select {
	case p.jobQueue <- ev:
	default:
		metrics.ClicksDropped.Inc()
		log.Warn().Str("link_id", ev.LinkID).Msg("click queue full, dropping event")
	}
}

// Stop flushes queued events and waits for in-flight batches. An event
// that slipped into the queue after the batcher's final drain is counted
// as dropped, not lost silently.
func (p *Pool) Stop() {
	close(p.quit)
	p.wg.Wait()

	for {
		select {
		case ev := <-p.jobQueue:
			metrics.ClicksDropped.Inc()
			log.Warn().Str("link_id", ev.LinkID).Msg("dropping click event queued during shutdown")
		default:
			return
		}
	}
}

func (p *Pool) batcher() {
	defer p.wg.Done()
	defer close(p.batchQueue)

	ticker := time.NewTicker(p.cfg.FlushEvery)
	defer ticker.Stop()

	batch := make([]links.ClickEvent, 0, p.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.batchQueue <- batch
		batch = make([]links.ClickEvent, 0, p.cfg.BatchSize)
	}

	for {
		select {
		case ev := <-p.jobQueue:
			batch = append(batch, ev)
			if len(batch) >= p.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-p.quit:
			for {
				select {
				case ev := <-p.jobQueue:
					batch = append(batch, ev)
					if len(batch) >= p.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for batch := range p.batchQueue {
		p.deliver(id, batch)
	}
}

func (p *Pool) deliver(worker int, batch []links.ClickEvent) {
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.sink.RecordClicks(ctx, batch)
		cancel()

		if err == nil {
			metrics.ClicksRecorded.Add(float64(len(batch)))
			return
		}

		log.Error().Err(err).
			Int("worker", worker).
			Int("attempt", attempt+1).
			Int("events", len(batch)).
			Msg("failed to record click batch")

		if attempt < p.cfg.MaxRetries {
			time.Sleep(time.Duration(1<<attempt) * 100 * time.Millisecond)
		}
	}

	metrics.ClickBatchesDropped.Inc()
	log.Warn().Int("events", len(batch)).Msg("dropping click batch after retries")
}
