package fetch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/logging"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/queue"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/remote"
)

// Result is posted to the finished queue. A Result with Done set is a
// worker's terminal marker and carries no item.
type Result struct {
	Item    WorkItem
	Outcome Outcome
	Bytes   int64
	Worker  int
	Done    bool
}

// Failure records an item a worker dropped.
type Failure struct {
	Item   WorkItem
	Worker int
	Err    error
}

// Stats summarises a pipeline run.
type Stats struct {
	Downloaded     int64
	AlreadyPresent int64
	Failed         int64
	Bytes          int64
}

type counters struct {
	downloaded     atomic.Int64
	alreadyPresent atomic.Int64
	failed         atomic.Int64
	bytes          atomic.Int64
}

// Pipeline runs a fixed pool of download workers.
type Pipeline struct {
	repo    remote.Repository
	workers int
	dl      *Downloader
	log     *logging.Logger

	stats counters

	mu       sync.Mutex
	failures []Failure
}

// NewPipeline returns a pipeline of workers download workers. Values below
// one are raised to one.
func NewPipeline(repo remote.Repository, workers int, dl *Downloader) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		repo:    repo,
		workers: workers,
		dl:      dl,
		log:     logging.Get("fetch"),
	}
}

// Workers returns the pool size.
func (p *Pipeline) Workers() int {
	return p.workers
}

// Start launches the workers and returns the finished queue. Every worker
// posts exactly one terminal marker when it exits, so the caller must Drain
// the returned queue. The finished queue is FIFO: a worker's marker always
// follows its own results.
func (p *Pipeline) Start(ctx context.Context, work *queue.Queue[WorkItem]) *queue.Queue[Result] {
	finished := queue.NewFIFO[Result]()
	for id := 1; id <= p.workers; id++ {
		go p.worker(ctx, id, work, finished)
	}
	return finished
}

func (p *Pipeline) worker(ctx context.Context, id int, work *queue.Queue[WorkItem], finished *queue.Queue[Result]) {
	log := p.log.With("worker", id)
	defer func() {
		_ = finished.Put(Result{Worker: id, Done: true})
	}()

	session, err := p.repo.Connect(ctx)
	if err != nil {
		// Items stay queued for the remaining workers.
		log.Error("cannot open session", "remote", p.repo.String(), "error", err)
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Debug("closing session", "error", err)
		}
	}()

	for {
		item, ok := work.Get()
		if !ok {
			return
		}

		outcome, n, err := p.dl.Download(ctx, session, item)
		if err != nil {
			p.stats.failed.Add(1)
			p.recordFailure(Failure{Item: item, Worker: id, Err: err})
			log.Error("download failed", "artifact", item.Name, "error", err)
			continue
		}

		p.stats.bytes.Add(n)
		if outcome == OutcomeAlreadyPresent {
			p.stats.alreadyPresent.Add(1)
		} else {
			p.stats.downloaded.Add(1)
		}

		_ = finished.Put(Result{Item: item, Outcome: outcome, Bytes: n, Worker: id})
	}
}

func (p *Pipeline) recordFailure(f Failure) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, f)
}

// Drain hands every finished Result to fn in arrival order until all
// workers have posted their terminal marker, then closes finished.
func (p *Pipeline) Drain(finished *queue.Queue[Result], fn func(Result)) {
	remaining := p.workers
	for remaining > 0 {
		res, ok := finished.Get()
		if !ok {
			return
		}
		if res.Done {
			remaining--
			continue
		}
		fn(res)
	}
	finished.Close()
}

// Failures returns the items dropped so far.
func (p *Pipeline) Failures() []Failure {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Failure, len(p.failures))
	copy(out, p.failures)
	return out
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Downloaded:     p.stats.downloaded.Load(),
		AlreadyPresent: p.stats.alreadyPresent.Load(),
		Failed:         p.stats.failed.Load(),
		Bytes:          p.stats.bytes.Load(),
	}
}
