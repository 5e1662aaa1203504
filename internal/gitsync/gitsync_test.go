package gitsync

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/console-helpers/svn-buddy-updater/internal/config"
	"github.com/console-helpers/svn-buddy-updater/internal/logging"
)

type fixtureRepo struct {
	t      *testing.T
	dir    string
	repo   *git.Repository
	hashes []string
	times  []time.Time
}

func initFixtureRepo(t *testing.T) *fixtureRepo {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	return &fixtureRepo{t: t, dir: dir, repo: repo}
}

func (f *fixtureRepo) commit(content string, when time.Time, parents ...string) string {
	f.t.Helper()

	if err := os.WriteFile(filepath.Join(f.dir, "VERSION"), []byte(content), 0644); err != nil {
		f.t.Fatal(err)
	}

	w, err := f.repo.Worktree()
	if err != nil {
		f.t.Fatal(err)
	}
	if _, err := w.Add("VERSION"); err != nil {
		f.t.Fatal(err)
	}

	opts := &git.CommitOptions{
		Author:    &object.Signature{Name: "tester", Email: "tester@example.com", When: when},
		Committer: &object.Signature{Name: "tester", Email: "tester@example.com", When: when},
	}
	for _, p := range parents {
		opts.Parents = append(opts.Parents, plumbing.NewHash(p))
	}

	hash, err := w.Commit(content, opts)
	if err != nil {
		f.t.Fatal(err)
	}

	f.hashes = append(f.hashes, hash.String())
	f.times = append(f.times, when)
	return hash.String()
}

func initSynchronizer(t *testing.T, repoDir string) *Synchronizer {
	t.Helper()
	return New(config.Git{
		Repo:      repoDir,
		Reference: "master",
		Path:      filepath.Join(t.TempDir(), "clone"),
	}, logging.NopLogger())
}

func day(n, hour int) time.Time {
	return time.Date(2026, 8, n, hour, 0, 0, 0, time.UTC)
}

func TestExecuteClonesAndTracks(t *testing.T) {
	fixture := initFixtureRepo(t)
	fixture.commit("v1", day(3, 10))

	s := initSynchronizer(t, fixture.dir)
	if err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(s.path, ".git", configFile)); err != nil {
		t.Fatalf("expected clone marker to exist: %v", err)
	}

	// A commit made after the clone arrives with the next Execute.
	latest := fixture.commit("v2", day(10, 10))

	if err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	hash, _, found, err := s.CommitBeforeCutoff(t.Context(), day(30, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !found || hash != latest {
		t.Fatalf("expected head commit %s, got %s (found=%v)", latest, hash, found)
	}
}

func TestExecuteWipesCloneOnConfigChange(t *testing.T) {
	first := initFixtureRepo(t)
	first.commit("v1", day(3, 10))

	s := initSynchronizer(t, first.dir)
	if err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	second := initFixtureRepo(t)
	want := second.commit("other", day(4, 10))

	// Same clone path, different repository: the old clone must be wiped.
	s2 := New(config.Git{Repo: second.dir, Reference: "master", Path: s.path}, logging.NopLogger())
	if err := s2.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	hash, _, found, err := s2.CommitBeforeCutoff(t.Context(), day(30, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !found || hash != want {
		t.Fatalf("expected commit %s from the new repository, got %s (found=%v)", want, hash, found)
	}
}

func TestCommitBeforeCutoff(t *testing.T) {
	fixture := initFixtureRepo(t)
	fixture.commit("v1", day(3, 10))
	mid := fixture.commit("v2", day(12, 10))
	fixture.commit("v3", day(20, 10))

	s := initSynchronizer(t, fixture.dir)
	if err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	// The newest commit strictly before the cutoff wins.
	hash, committedAt, found, err := s.CommitBeforeCutoff(t.Context(), day(17, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !found || hash != mid {
		t.Fatalf("expected %s, got %s (found=%v)", mid, hash, found)
	}
	if !committedAt.Equal(day(12, 10)) {
		t.Fatalf("unexpected commit time: %s", committedAt)
	}

	// A commit exactly at the cutoff is not eligible.
	hash, _, found, err = s.CommitBeforeCutoff(t.Context(), day(12, 10))
	if err != nil {
		t.Fatal(err)
	}
	if !found || hash != fixture.hashes[0] {
		t.Fatalf("expected %s, got %s (found=%v)", fixture.hashes[0], hash, found)
	}

	// No commit before the cutoff at all.
	_, _, found, err = s.CommitBeforeCutoff(t.Context(), day(1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected no eligible commit")
	}
}

func TestCommitBeforeCutoffMergeHistory(t *testing.T) {
	fixture := initFixtureRepo(t)
	fixture.commit("v1", day(3, 10))
	base := fixture.commit("v2", day(12, 10))
	side := fixture.commit("side", day(16, 10))
	mainline := fixture.commit("v3", day(19, 10), base) // first-parent line skips the side branch
	fixture.commit("merge", day(20, 10), mainline, side)

	s := initSynchronizer(t, fixture.dir)
	if err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	// The side-branch commit is newer than anything on the first-parent line
	// before the cutoff; it must win.
	hash, committedAt, found, err := s.CommitBeforeCutoff(t.Context(), day(17, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !found || hash != side {
		t.Fatalf("expected side-branch commit %s, got %s (found=%v)", side, hash, found)
	}
	if !committedAt.Equal(day(16, 10)) {
		t.Fatalf("unexpected commit time: %s", committedAt)
	}
}

func TestTempCheckout(t *testing.T) {
	fixture := initFixtureRepo(t)
	old := fixture.commit("v1", day(3, 10))
	fixture.commit("v2", day(12, 10))

	s := initSynchronizer(t, fixture.dir)
	if err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}

	dir, cleanup, err := s.TempCheckout(t.Context(), old)
	if err != nil {
		t.Fatal(err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "VERSION"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "v1" {
		t.Fatalf("expected checkout of the old commit, got VERSION=%q", content)
	}

	cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected checkout directory to be removed, got %v", err)
	}
}

func TestExecuteWrapsErrors(t *testing.T) {
	s := New(config.Git{
		Repo:      filepath.Join(t.TempDir(), "does-not-exist"),
		Reference: "master",
		Path:      filepath.Join(t.TempDir(), "clone"),
	}, logging.NopLogger())

	err := s.Execute(t.Context())
	if !errors.Is(err, ErrSourceControl) {
		t.Fatalf("expected ErrSourceControl, got %v", err)
	}
}

func TestWeeklyCutoff(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		// Wednesday mid-week.
		{time.Date(2026, 8, 19, 15, 30, 0, 0, time.UTC), time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)},
		// Monday itself: the week has just begun.
		{time.Date(2026, 8, 17, 12, 34, 0, 0, time.UTC), time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)},
		// Sunday belongs to the week that started the previous Monday.
		{time.Date(2026, 8, 23, 23, 59, 0, 0, time.UTC), time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)},
	}

	for _, tc := range tests {
		if got := WeeklyCutoff(tc.now); !got.Equal(tc.want) {
			t.Fatalf("WeeklyCutoff(%s): expected %s, got %s", tc.now, tc.want, got)
		}
	}
}
