// Package service orchestrates the two sync flows: mirroring the upstream
// stable channel into the catalog, and building weekly snapshot releases
// from source control. It owns the retention sweep that keeps the snapshot
// channel bounded.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/console-helpers/svn-buddy-updater/internal/database"
	"github.com/console-helpers/svn-buddy-updater/internal/gitsync"
	"github.com/console-helpers/svn-buddy-updater/internal/logging"
	"github.com/console-helpers/svn-buddy-updater/internal/metrics"
	"github.com/console-helpers/svn-buddy-updater/internal/pool"
	"github.com/console-helpers/svn-buddy-updater/internal/progress"
	"github.com/console-helpers/svn-buddy-updater/internal/release"
)

// ErrNoEligibleCommit is returned by the snapshot flow when the tracked
// branch has no commit before the weekly cutoff. Scheduled runs treat it as
// a quiet week, not a failure.
var ErrNoEligibleCommit = errors.New("no commit before weekly cutoff")

// MinPHPVersion is the interpreter requirement advertised alongside every
// release. The tool targets PHP installations this old on purpose.
const MinPHPVersion = "5.3.3"

// snapshotKeyPrefix is the bucket directory snapshot artifacts live under,
// one sub-prefix per commit hash.
const snapshotKeyPrefix = "snapshots"

// ReleaseSource lists the published releases of the upstream repository.
type ReleaseSource interface {
	FetchReleases(ctx context.Context) ([]release.Release, error)
}

// SourceControl maintains the tracked repository clone and cuts checkouts
// from it.
type SourceControl interface {
	Execute(ctx context.Context) error
	CommitBeforeCutoff(ctx context.Context, cutoff time.Time) (hash string, committedAt time.Time, found bool, err error)
	TempCheckout(ctx context.Context, hash string) (dir string, cleanup func(), err error)
}

// ArtifactBuilder produces the phar and signature files from a checkout.
type ArtifactBuilder interface {
	Build(ctx context.Context, checkoutDir, outputDir string) (pharPath, signaturePath string, err error)
}

// ArtifactStore holds the published artifact files.
type ArtifactStore interface {
	Upload(ctx context.Context, files []string, prefix string) ([]string, error)
	DeleteByKeys(ctx context.Context, keys []string) error
}

// VersionInfo is what the query surface advertises per channel.
type VersionInfo struct {
	DownloadPath  string `json:"path"`
	Version       string `json:"version"`
	MinPHPVersion string `json:"min_php_version"`
}

type Service struct {
	db              *database.Database
	upstream        ReleaseSource
	sourceControl   SourceControl
	builder         ArtifactBuilder
	storage         ArtifactStore
	log             *logging.Logger
	bar             *progress.Bar
	retentionWindow time.Duration
	snapshotsDir    string
	clock           func() time.Time
}

func New(db *database.Database) *Service {
	return &Service{
		db:    db,
		log:   logging.NopLogger(),
		clock: time.Now,
	}
}

func (s *Service) WithUpstream(upstream ReleaseSource) *Service {
	s.upstream = upstream
	return s
}

func (s *Service) WithSourceControl(sc SourceControl) *Service {
	s.sourceControl = sc
	return s
}

func (s *Service) WithBuilder(builder ArtifactBuilder) *Service {
	s.builder = builder
	return s
}

func (s *Service) WithStorage(storage ArtifactStore) *Service {
	s.storage = storage
	return s
}

func (s *Service) WithLogger(log *logging.Logger) *Service {
	s.log = log
	return s
}

func (s *Service) WithProgress(bar *progress.Bar) *Service {
	s.bar = bar
	return s
}

func (s *Service) WithRetentionWindow(window time.Duration) *Service {
	s.retentionWindow = window
	return s
}

func (s *Service) WithSnapshotsDir(dir string) *Service {
	s.snapshotsDir = dir
	return s
}

// WithClock overrides the time source. Tests pin it to exercise the weekly
// cutoff and retention math.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// SyncStable makes the catalog's stable channel match the upstream release
// listing exactly: releases unpublished upstream disappear here too.
func (s *Service) SyncStable(ctx context.Context) error {
	startTime := time.Now()

	releases, err := s.upstream.FetchReleases(ctx)
	if err != nil {
		metrics.SyncFailed("stable")
		return err
	}

	if err := s.db.ReplaceStableReleases(ctx, releases, s.bar); err != nil {
		metrics.SyncFailed("stable")
		return err
	}

	s.log.Infof("Stable channel synchronized, %d releases cataloged.", len(releases))
	metrics.SyncSucceeded("stable", startTime)
	return nil
}

// SyncSnapshot builds and catalogs the snapshot for the last completed week,
// then sweeps expired snapshots. A week whose snapshot is already cataloged
// builds nothing; the sweep still runs.
func (s *Service) SyncSnapshot(ctx context.Context) error {
	startTime := time.Now()

	if err := s.syncSnapshot(ctx); err != nil {
		if errors.Is(err, ErrNoEligibleCommit) {
			// Not a failure: the branch predates the cutoff entirely.
			metrics.SyncSucceeded("snapshot", startTime)
			return err
		}
		metrics.SyncFailed("snapshot")
		return err
	}

	if err := s.sweepExpired(ctx); err != nil {
		metrics.SyncFailed("snapshot")
		return err
	}

	metrics.SyncSucceeded("snapshot", startTime)
	return nil
}

func (s *Service) syncSnapshot(ctx context.Context) error {
	if err := s.sourceControl.Execute(ctx); err != nil {
		return err
	}

	cutoff := gitsync.WeeklyCutoff(s.clock())
	hash, committedAt, found, err := s.sourceControl.CommitBeforeCutoff(ctx, cutoff)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: cutoff %s", ErrNoEligibleCommit, cutoff.Format(time.RFC3339))
	}

	if _, exists, err := s.db.FindSnapshotByVersion(ctx, hash); err != nil {
		return err
	} else if exists {
		s.log.Infof("Snapshot %s already cataloged, nothing to build.", hash)
		return nil
	}

	checkoutDir, cleanupCheckout, err := s.sourceControl.TempCheckout(ctx, hash)
	if err != nil {
		return err
	}
	defer cleanupCheckout()

	outputDir, cleanupOutput, err := s.outputDir(hash)
	if err != nil {
		return err
	}
	defer cleanupOutput()

	pharPath, signaturePath, err := s.builder.Build(ctx, checkoutDir, outputDir)
	if err != nil {
		return err
	}
	metrics.SnapshotBuilt()

	urls, err := s.storage.Upload(ctx, []string{pharPath, signaturePath}, path.Join(snapshotKeyPrefix, hash))
	if err != nil {
		return err
	}

	r := release.Release{
		VersionName: hash,
		ReleaseDate: committedAt,
		Stability:   release.Snapshot,
	}
	r.SetArtifactURL(release.Phar, urls[0])
	r.SetArtifactURL(release.Signature, urls[1])

	if err := s.db.InsertSnapshot(ctx, r); err != nil {
		return err
	}

	s.log.Infof("Snapshot %s built and cataloged (committed %s).", hash, committedAt.Format(time.RFC3339))
	return nil
}

func (s *Service) outputDir(hash string) (string, func(), error) {
	if s.snapshotsDir != "" {
		dir := filepath.Join(s.snapshotsDir, hash)
		return dir, func() {
			if err := os.RemoveAll(dir); err != nil {
				s.log.Warnf("Failed to remove build output %s: %v.", dir, err)
			}
		}, nil
	}

	dir, err := os.MkdirTemp("", "svn-buddy-build-")
	if err != nil {
		return "", nil, err
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warnf("Failed to remove build output %s: %v.", dir, err)
		}
	}, nil
}

// sweepExpired deletes snapshots older than the retention window, store
// objects first, catalog rows second: a failed object deletion leaves the
// row in place so the next sweep retries, and the catalog never points at
// removed artifacts for longer than one failed attempt. The newest snapshot
// is never deleted, however old it is.
func (s *Service) sweepExpired(ctx context.Context) error {
	if s.retentionWindow <= 0 {
		return nil
	}

	latest, err := s.db.LatestPerStability(ctx)
	if err != nil {
		return err
	}
	newest, ok := latest[release.Snapshot]
	if !ok {
		return nil
	}

	cutoff := s.clock().Add(-s.retentionWindow)
	versions, err := s.db.SnapshotsOlderThan(ctx, cutoff, newest.VersionName)
	if err != nil {
		return err
	}

	deleted := 0
	for _, version := range versions {
		if err := s.storage.DeleteByKeys(ctx, snapshotKeys(version)); err != nil {
			s.log.Warnf("Failed to delete artifacts of snapshot %s, keeping its catalog row: %v.", version, err)
			continue
		}
		if err := s.db.DeleteVersions(ctx, []string{version}); err != nil {
			s.log.Warnf("Failed to delete catalog row of snapshot %s: %v.", version, err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.log.Infof("Retention sweep removed %d expired snapshots.", deleted)
		metrics.SnapshotsDeleted(deleted)
	}
	return nil
}

// snapshotKeys lists every object a snapshot occupies in the bucket,
// including the folder marker some S3 browsers create for the prefix.
func snapshotKeys(version string) []string {
	return []string{
		path.Join(snapshotKeyPrefix, version, release.PharFileName),
		path.Join(snapshotKeyPrefix, version, release.SignatureFileName),
		path.Join(snapshotKeyPrefix, version) + "/",
	}
}

// LatestVersionsForStability answers the query surface's "what should I
// install" question, one entry per channel that has at least one release.
func (s *Service) LatestVersionsForStability(ctx context.Context) (map[release.Stability]VersionInfo, error) {
	latest, err := s.db.LatestPerStability(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[release.Stability]VersionInfo, len(latest))
	for stability, r := range latest {
		out[stability] = VersionInfo{
			DownloadPath:  "/download/" + r.VersionName + "/" + release.PharFileName,
			Version:       r.VersionName,
			MinPHPVersion: MinPHPVersion,
		}
	}
	return out, nil
}

// DownloadURL resolves a version/file pair to its artifact URL. Unknown
// versions and files yield database.ErrNotFound.
func (s *Service) DownloadURL(ctx context.Context, versionName, fileName string) (string, error) {
	return s.db.DownloadURL(ctx, versionName, fileName)
}

// Register puts both sync flows on the pool at their configured intervals.
// Failed runs retry at the same cadence.
func (s *Service) Register(p *pool.Pool, stableInterval, snapshotInterval time.Duration) {
	p.Add("sync-stable", func(ctx context.Context) time.Time {
		if err := s.SyncStable(ctx); err != nil {
			s.log.Errorf("Stable sync failed: %v.", err)
		}
		return time.Now().Add(stableInterval)
	})

	p.Add("sync-snapshot", func(ctx context.Context) time.Time {
		switch err := s.SyncSnapshot(ctx); {
		case err == nil:
		case errors.Is(err, ErrNoEligibleCommit):
			s.log.Infof("Snapshot sync: %v.", err)
		default:
			s.log.Errorf("Snapshot sync failed: %v.", err)
		}
		return time.Now().Add(snapshotInterval)
	})
}
