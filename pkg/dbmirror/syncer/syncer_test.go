package syncer

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/config"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/digest"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/fetch"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/hashmap"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/remote"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/runlock"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/unpack"
)

// mirror is a fake NCBI directory: tar.gz volumes with .md5 descriptors.
type mirror struct {
	t    *testing.T
	root string
}

func newMirror(t *testing.T) *mirror {
	t.Helper()
	return &mirror{t: t, root: t.TempDir()}
}

// publish writes archive name containing one file per entry of files and
// its descriptor. It returns the archive digest.
func (m *mirror) publish(name string, files map[string]string) string {
	m.t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for fn, body := range files {
		require.NoError(m.t, tw.WriteHeader(&tar.Header{Name: fn, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(m.t, err)
	}
	require.NoError(m.t, tw.Close())
	require.NoError(m.t, gz.Close())

	sum := digest.MD5.Sum(buf.Bytes())
	require.NoError(m.t, os.WriteFile(filepath.Join(m.root, name), buf.Bytes(), 0o644))
	m.describe(name, sum)
	return sum
}

func (m *mirror) describe(name, sum string) {
	m.t.Helper()
	require.NoError(m.t, os.WriteFile(filepath.Join(m.root, name+".md5"), []byte(sum+"  "+name+"\n"), 0o644))
}

// countingRepo counts sessions and archive fetches.
type countingRepo struct {
	remote.Repository
	sessions atomic.Int64
	archives atomic.Int64
	failDial atomic.Bool
}

func (c *countingRepo) Connect(ctx context.Context) (remote.Session, error) {
	if c.failDial.Load() {
		return nil, errors.New("connection refused")
	}
	c.sessions.Add(1)
	s, err := c.Repository.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &countingSession{Session: s, repo: c}, nil
}

type countingSession struct {
	remote.Session
	repo *countingRepo
}

func (s *countingSession) Fetch(ctx context.Context, name string, w io.Writer) (int64, error) {
	if !strings.HasSuffix(name, ".md5") {
		s.repo.archives.Add(1)
	}
	return s.Session.Fetch(ctx, name, w)
}

func (m *mirror) repo() *countingRepo {
	m.t.Helper()
	d, err := remote.NewDir(m.root)
	require.NoError(m.t, err)
	return &countingRepo{Repository: d}
}

func newConfig(t *testing.T, workers int, include, exclude []string) *config.Config {
	t.Helper()

	cfg := &config.Config{
		DestDir: filepath.Join(t.TempDir(), "blastdb"),
		Workers: workers,
		Include: include,
		Exclude: exclude,
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func loadManifest(t *testing.T, cfg *config.Config) hashmap.Manifest {
	t.Helper()
	store, err := hashmap.NewStore(cfg.ManifestPath)
	require.NoError(t, err)
	m, err := store.Load()
	require.NoError(t, err)
	return m
}

func TestRun_FreshMirror(t *testing.T) {
	t.Parallel()

	m := newMirror(t)
	sumA := m.publish("nr.00.tar.gz", map[string]string{"nr.00.phr": "alpha"})
	sumB := m.publish("nr.01.tar.gz", map[string]string{"nr.01.phr": "beta"})
	repo := m.repo()
	cfg := newConfig(t, 2, nil, nil)

	s := New(cfg, repo)
	assert.Equal(t, StateIdle, s.State())

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, s.State())

	assert.Equal(t, 2, report.Pending)
	assert.Equal(t, 0, report.UpToDate)
	assert.Equal(t, 2, report.Count(OutcomeInstalled))
	assert.Zero(t, report.Failed())
	assert.NotEmpty(t, report.RunID)
	assert.Positive(t, report.Bytes)

	got, err := os.ReadFile(filepath.Join(cfg.DestDir, "nr.01.phr"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(got))

	assert.Equal(t, hashmap.Manifest{"nr.00.tar.gz": sumA, "nr.01.tar.gz": sumB}, loadManifest(t, cfg))
	assert.NoFileExists(t, filepath.Join(cfg.StagingDir, "nr.00.tar.gz"), "installed archives are removed")
	assert.Equal(t, int64(2), repo.archives.Load())
	assert.Equal(t, int64(1+2), repo.sessions.Load(), "catalog session plus one per worker")
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()

	m := newMirror(t)
	m.publish("swissprot.tar.gz", map[string]string{"swissprot.pin": "x"})
	m.publish("pdb.tar.gz", map[string]string{"pdb.pin": "y"})
	cfg := newConfig(t, 4, nil, nil)

	_, err := New(cfg, m.repo()).Run(context.Background())
	require.NoError(t, err)
	first := loadManifest(t, cfg)

	repo := m.repo()
	report, err := New(cfg, repo).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Pending)
	assert.Equal(t, 2, report.UpToDate)
	assert.Empty(t, report.Artifacts)
	assert.Zero(t, repo.archives.Load(), "no archive transfers on a re-run")
	assert.Equal(t, first, loadManifest(t, cfg))
}

func TestRun_UpdatedArtifact(t *testing.T) {
	t.Parallel()

	m := newMirror(t)
	m.publish("nt.00.tar.gz", map[string]string{"nt.00.nin": "v1"})
	m.publish("nt.01.tar.gz", map[string]string{"nt.01.nin": "v1"})
	cfg := newConfig(t, 2, nil, nil)

	_, err := New(cfg, m.repo()).Run(context.Background())
	require.NoError(t, err)

	sum := m.publish("nt.01.tar.gz", map[string]string{"nt.01.nin": "v2"})
	repo := m.repo()
	report, err := New(cfg, repo).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, int64(1), repo.archives.Load())
	assert.Equal(t, sum, loadManifest(t, cfg)["nt.01.tar.gz"])

	got, err := os.ReadFile(filepath.Join(cfg.DestDir, "nt.01.nin"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
}

func TestRun_IntegrityFailure(t *testing.T) {
	t.Parallel()

	m := newMirror(t)
	good := m.publish("good.tar.gz", map[string]string{"good.pin": "ok"})
	m.publish("bad.tar.gz", map[string]string{"bad.pin": "tampered"})
	m.describe("bad.tar.gz", digest.MD5.Sum([]byte("something else")))
	cfg := newConfig(t, 2, nil, nil)

	report, err := New(cfg, m.repo()).Run(context.Background())
	require.NoError(t, err, "artifact failures do not fail the run")

	bad, ok := report.Lookup("bad.tar.gz")
	require.True(t, ok)
	assert.Equal(t, OutcomeFailedDownload, bad.Outcome)
	assert.True(t, errors.Is(bad.Err, fetch.ErrIntegrity))

	assert.Equal(t, hashmap.Manifest{"good.tar.gz": good}, loadManifest(t, cfg))
	assert.NoFileExists(t, filepath.Join(cfg.StagingDir, "bad.tar.gz"))
	assert.NoFileExists(t, filepath.Join(cfg.StagingDir, "bad.tar.gz"+fetch.TempSuffix))
	assert.NoFileExists(t, filepath.Join(cfg.DestDir, "bad.pin"))
}

// Downloads finish while the coordinator is still unpacking earlier ones;
// every verified archive must still reach the installer.
func TestRun_SlowInstaller(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()

			m := newMirror(t)
			want := hashmap.Manifest{}
			for i := 0; i < 6; i++ {
				name := fmt.Sprintf("refseq_protein.%02d.tar.gz", i)
				want[name] = m.publish(name, map[string]string{fmt.Sprintf("refseq_protein.%02d.pin", i): "p"})
			}
			cfg := newConfig(t, workers, nil, nil)

			tarball := unpack.NewTar()
			slow := unpack.Func(func(ctx context.Context, archive, destDir string) error {
				time.Sleep(25 * time.Millisecond)
				return tarball.Unpack(ctx, archive, destDir)
			})

			report, err := New(cfg, m.repo(), WithUnpacker(slow)).Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 6, report.Count(OutcomeInstalled))
			assert.Zero(t, report.Failed())
			assert.Equal(t, want, loadManifest(t, cfg))
		})
	}
}

func TestRun_InstallFailureKeepsArchiveForNextRun(t *testing.T) {
	t.Parallel()

	m := newMirror(t)
	sum := m.publish("env_nr.tar.gz", map[string]string{"env_nr.pin": "data"})
	cfg := newConfig(t, 1, nil, nil)

	broken := unpack.Func(func(context.Context, string, string) error {
		return errors.New("disk full")
	})
	report, err := New(cfg, m.repo(), WithUnpacker(broken)).Run(context.Background())
	require.NoError(t, err)

	a, ok := report.Lookup("env_nr.tar.gz")
	require.True(t, ok)
	assert.Equal(t, OutcomeFailedInstall, a.Outcome)
	assert.FileExists(t, filepath.Join(cfg.StagingDir, "env_nr.tar.gz"))
	assert.Empty(t, loadManifest(t, cfg))

	// The staged archive verifies, so the retry installs without a transfer.
	repo := m.repo()
	report, err = New(cfg, repo).Run(context.Background())
	require.NoError(t, err)

	a, ok = report.Lookup("env_nr.tar.gz")
	require.True(t, ok)
	assert.Equal(t, OutcomeInstalled, a.Outcome)
	assert.False(t, a.Downloaded)
	assert.Zero(t, repo.archives.Load())
	assert.Equal(t, hashmap.Manifest{"env_nr.tar.gz": sum}, loadManifest(t, cfg))
}

// A crash after the manifest was saved but before the archive was deleted
// leaves a redundant archive; the next run removes it without refetching.
func TestRun_CrashLeftovers(t *testing.T) {
	t.Parallel()

	m := newMirror(t)
	sum := m.publish("taxdb.tar.gz", map[string]string{"taxdb.btd": "t"})
	cfg := newConfig(t, 1, nil, nil)

	require.NoError(t, os.MkdirAll(cfg.StagingDir, 0o755))
	store, err := hashmap.NewStore(cfg.ManifestPath)
	require.NoError(t, err)
	require.NoError(t, store.Save(hashmap.Manifest{"taxdb.tar.gz": sum}))

	leftover := filepath.Join(cfg.StagingDir, "taxdb.tar.gz")
	partial := filepath.Join(cfg.StagingDir, "nr.00.tar.gz"+fetch.TempSuffix)
	require.NoError(t, os.WriteFile(leftover, []byte("redundant"), 0o644))
	require.NoError(t, os.WriteFile(partial, []byte("half"), 0o644))

	repo := m.repo()
	report, err := New(cfg, repo).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Pending)
	assert.Zero(t, repo.archives.Load())
	assert.NoFileExists(t, leftover)
	assert.NoFileExists(t, partial)
}

func TestRun_Filter(t *testing.T) {
	t.Parallel()

	m := newMirror(t)
	m.publish("nr_prot.00.tar.gz", map[string]string{"a": "1"})
	m.publish("nr_prot_old.00.tar.gz", map[string]string{"b": "2"})
	m.publish("pdb.tar.gz", map[string]string{"c": "3"})
	cfg := newConfig(t, 2, []string{"nr_*"}, []string{"*_old"})

	report, err := New(cfg, m.repo()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, []string{"nr_prot.00.tar.gz"}, loadManifest(t, cfg).Names())
}

func TestRun_Workers(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 4, 16} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()

			m := newMirror(t)
			const volumes = 24
			for i := 0; i < volumes; i++ {
				m.publish(fmt.Sprintf("nr.%02d.tar.gz", i), map[string]string{fmt.Sprintf("nr.%02d.phr", i): fmt.Sprint(i)})
			}
			repo := m.repo()
			cfg := newConfig(t, workers, nil, nil)

			report, err := New(cfg, repo).Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, volumes, report.Count(OutcomeInstalled))
			assert.Len(t, report.Artifacts, volumes)
			assert.Len(t, loadManifest(t, cfg), volumes)
			assert.Equal(t, int64(volumes), repo.archives.Load(), "each artifact fetched once")
			assert.Equal(t, int64(workers+1), repo.sessions.Load())
		})
	}
}

func TestRun_WorkerSessionsFail(t *testing.T) {
	t.Parallel()

	m := newMirror(t)
	m.publish("nr.00.tar.gz", map[string]string{"a": "1"})
	cfg := newConfig(t, 3, nil, nil)

	// The catalog session opens; every worker session then fails.
	base := m.repo()
	repo := &failAfterFirst{countingRepo: base}
	report, err := New(cfg, repo).Run(context.Background())
	require.NoError(t, err)

	a, ok := report.Lookup("nr.00.tar.gz")
	require.True(t, ok)
	assert.Equal(t, OutcomeFailedDownload, a.Outcome)
	assert.Empty(t, loadManifest(t, cfg))
}

type failAfterFirst struct {
	*countingRepo
	calls atomic.Int64
}

func (f *failAfterFirst) Connect(ctx context.Context) (remote.Session, error) {
	if f.calls.Add(1) > 1 {
		return nil, errors.New("too many connections")
	}
	return f.countingRepo.Connect(ctx)
}

func TestRun_FatalErrors(t *testing.T) {
	t.Parallel()

	t.Run("connection refused", func(t *testing.T) {
		t.Parallel()
		repo := newMirror(t).repo()
		repo.failDial.Store(true)
		_, err := New(newConfig(t, 1, nil, nil), repo).Run(context.Background())
		assert.Error(t, err)
	})

	t.Run("malformed local manifest", func(t *testing.T) {
		t.Parallel()
		cfg := newConfig(t, 1, nil, nil)
		require.NoError(t, os.MkdirAll(cfg.StagingDir, 0o755))
		require.NoError(t, os.WriteFile(cfg.ManifestPath, []byte("only-one-field\n"), 0o644))

		_, err := New(cfg, newMirror(t).repo()).Run(context.Background())
		assert.True(t, errors.Is(err, hashmap.ErrMalformed))
	})

	t.Run("another run holds the lock", func(t *testing.T) {
		t.Parallel()
		cfg := newConfig(t, 1, nil, nil)
		lock, err := runlock.Acquire(filepath.Join(cfg.StagingDir, runlock.FileName))
		require.NoError(t, err)
		defer lock.Release()

		_, err = New(cfg, newMirror(t).repo()).Run(context.Background())
		assert.True(t, errors.Is(err, runlock.ErrLocked))
	})
}

func TestRun_OnlyOnce(t *testing.T) {
	t.Parallel()

	s := New(newConfig(t, 1, nil, nil), newMirror(t).repo())
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	assert.True(t, errors.Is(err, ErrAlreadyRun))
}

func TestState_String(t *testing.T) {
	t.Parallel()

	names := []string{"idle", "connected", "diffing", "dispatching", "draining", "finalized"}
	for i, want := range names {
		assert.Equal(t, want, State(i).String())
	}
	assert.Equal(t, "unknown", State(99).String())
}
