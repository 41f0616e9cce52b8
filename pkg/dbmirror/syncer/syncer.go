// Package syncer runs one mirror synchronisation: connect, diff, fetch in
// parallel, install, persist.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/catalog"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/config"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/differ"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/fetch"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/hashmap"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/install"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/logging"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/queue"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/remote"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/runlock"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/staging"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/unpack"
)

// ErrAlreadyRun is returned when Run is called on a Syncer that has left Idle.
var ErrAlreadyRun = errors.New("syncer already run")

// State is a phase of a run. Phases only move forward.
type State int

// Run phases.
const (
	StateIdle State = iota
	StateConnected
	StateDiffing
	StateDispatching
	StateDraining
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateDiffing:
		return "diffing"
	case StateDispatching:
		return "dispatching"
	case StateDraining:
		return "draining"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Syncer coordinates one run. Create a new Syncer per run.
type Syncer struct {
	cfg      *config.Config
	repo     remote.Repository
	unpacker unpack.Unpacker
	hasher   fetch.FileHasher
	log      *logging.Logger

	mu    sync.Mutex
	state State
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithUnpacker replaces the default tar unpacker.
func WithUnpacker(u unpack.Unpacker) Option {
	return func(s *Syncer) { s.unpacker = u }
}

// WithHasher sets the hasher used to check staged archives, typically a
// hashcache.Cache.
func WithHasher(h fetch.FileHasher) Option {
	return func(s *Syncer) { s.hasher = h }
}

// New returns a Syncer for a validated cfg.
func New(cfg *config.Config, repo remote.Repository, opts ...Option) *Syncer {
	s := &Syncer{
		cfg:  cfg,
		repo: repo,
		log:  logging.Get("sync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.unpacker == nil {
		s.unpacker = unpack.NewTar()
	}
	return s
}

// State returns the current phase.
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Syncer) advance(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to > s.state {
		s.state = to
	}
}

// Run performs the sync. The returned error covers only failures that stop
// the whole run (lock, connection, catalog, manifest load); per-artifact
// failures are recorded in the Report. The Report is non-nil whenever the
// run got past locking.
func (s *Syncer) Run(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	s.state = StateConnected
	s.mu.Unlock()
	defer s.advance(StateFinalized)

	start := time.Now()
	report := &Report{
		RunID:   uuid.NewString(),
		Remote:  s.repo.String(),
		Started: start,
	}
	log := s.log.With("run", report.RunID[:8])

	for _, dir := range []string{s.cfg.DestDir, s.cfg.StagingDir, filepath.Dir(s.cfg.ManifestPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	lock, err := runlock.Acquire(filepath.Join(s.cfg.StagingDir, runlock.FileName))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("releasing run lock", "error", err)
		}
	}()

	if _, err := staging.Sweep(ctx, s.cfg.StagingDir, false); err != nil {
		log.Warn("sweeping staging directory", "error", err)
	}

	log.Info("sync started", "remote", report.Remote, "dest", s.cfg.DestDir, "workers", s.cfg.Workers)

	session, err := s.repo.Connect(ctx)
	if err != nil {
		return report.finish(start), fmt.Errorf("connecting to %s: %w", report.Remote, err)
	}

	store, err := hashmap.NewStore(s.cfg.ManifestPath)
	if err != nil {
		_ = session.Close()
		return report.finish(start), err
	}
	local, err := store.Load()
	if err != nil {
		_ = session.Close()
		return report.finish(start), fmt.Errorf("loading local manifest: %w", err)
	}

	s.advance(StateDiffing)
	cat := catalog.New(session, catalog.WithSuffix(s.cfg.DescriptorSuffix))
	remoteManifest, err := cat.BuildRemoteManifest(ctx, s.cfg.Filter())
	if closeErr := session.Close(); closeErr != nil {
		log.Debug("closing catalog session", "error", closeErr)
	}
	if err != nil {
		return report.finish(start), fmt.Errorf("building remote manifest: %w", err)
	}

	work := queue.New[fetch.WorkItem]()
	for name := range differ.New(s.cfg.StagingDir).Diff(local, remoteManifest) {
		_ = work.Put(fetch.WorkItem{
			Name:         name,
			Target:       filepath.Join(s.cfg.StagingDir, name),
			ExpectedHash: remoteManifest[name],
		})
		report.Pending++
	}
	work.Close()
	report.UpToDate = len(remoteManifest) - report.Pending
	log.Info("diff complete", "remote", len(remoteManifest), "pending", report.Pending, "up_to_date", report.UpToDate)

	s.advance(StateDispatching)
	pipeline := fetch.NewPipeline(s.repo, s.cfg.Workers, fetch.NewDownloader(s.cfg.Algorithm(), s.hasher))
	finished := pipeline.Start(ctx, work)

	s.advance(StateDraining)
	var installOpts []install.Option
	if f, ok := s.hasher.(install.Forgetter); ok {
		installOpts = append(installOpts, install.WithForgetter(f))
	}
	installer := install.New(s.cfg.DestDir, s.unpacker, store, local, installOpts...)
	pipeline.Drain(finished, func(res fetch.Result) {
		a := Artifact{Name: res.Item.Name, Bytes: res.Bytes, Downloaded: res.Outcome == fetch.OutcomeDownloaded}
		if err := installer.Install(ctx, res.Item); err != nil {
			a.Outcome, a.Err = OutcomeFailedInstall, err
		} else {
			a.Outcome = OutcomeInstalled
		}
		report.Artifacts = append(report.Artifacts, a)
	})

	for _, f := range pipeline.Failures() {
		report.Artifacts = append(report.Artifacts, Artifact{Name: f.Item.Name, Outcome: OutcomeFailedDownload, Err: f.Err})
	}
	// Items no worker could take, because every session failed to open.
	for {
		item, ok := work.Get()
		if !ok {
			break
		}
		report.Artifacts = append(report.Artifacts, Artifact{
			Name:    item.Name,
			Outcome: OutcomeFailedDownload,
			Err:     errors.New("no worker session available"),
		})
	}

	stats := pipeline.Stats()
	report.Bytes = stats.Bytes
	report.finish(start)

	log.Info("sync finished",
		"installed", report.Count(OutcomeInstalled),
		"failed", report.Failed(),
		"transferred", humanize.Bytes(uint64(report.Bytes)),
		"elapsed", report.Elapsed.Round(time.Millisecond),
	)
	return report, nil
}

// Outcome is the final state of one artifact in a run.
type Outcome string

// Artifact outcomes.
const (
	OutcomeInstalled      Outcome = "installed"
	OutcomeFailedDownload Outcome = "failed-download"
	OutcomeFailedInstall  Outcome = "failed-install"
)

// Artifact is the per-artifact result of a run.
type Artifact struct {
	Name    string
	Outcome Outcome
	Err     error
	Bytes   int64

	// Downloaded is false when a verified archive was already staged.
	Downloaded bool
}

// Report summarises a run.
type Report struct {
	RunID     string
	Remote    string
	Started   time.Time
	Elapsed   time.Duration
	Pending   int
	UpToDate  int
	Bytes     int64
	Artifacts []Artifact
}

func (r *Report) finish(start time.Time) *Report {
	r.Elapsed = time.Since(start)
	sort.SliceStable(r.Artifacts, func(i, j int) bool {
		return r.Artifacts[i].Name < r.Artifacts[j].Name
	})
	return r
}

// Count returns how many artifacts ended with outcome.
func (r *Report) Count(outcome Outcome) int {
	n := 0
	for _, a := range r.Artifacts {
		if a.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failed returns the number of artifacts that did not install.
func (r *Report) Failed() int {
	return len(r.Artifacts) - r.Count(OutcomeInstalled)
}

// Lookup returns the result for name.
func (r *Report) Lookup(name string) (Artifact, bool) {
	for _, a := range r.Artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return Artifact{}, false
}
