package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/console-helpers/svn-buddy-updater/internal/config"
	"github.com/console-helpers/svn-buddy-updater/internal/release"
)

func initTestDB(t *testing.T) *Database {
	t.Helper()

	// A named in-memory database per test keeps every pooled connection on
	// the same data while isolating tests from each other.
	db := New().WithConfig(&config.Database{
		SQL: &config.SQLDatabase{
			Driver: "sqlite",
			DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		},
	})
	if err := db.InitDB(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.CloseDB)

	if err := db.Migrate(t.Context()); err != nil {
		t.Fatal(err)
	}
	return db
}

func day(n int) time.Time {
	return time.Date(2026, 8, n, 0, 0, 0, 0, time.UTC)
}

func stable(version string, date time.Time) release.Release {
	return release.Release{
		VersionName:  version,
		ReleaseDate:  date,
		PharURL:      "https://example.com/" + version + "/svn-buddy.phar",
		SignatureURL: "https://example.com/" + version + "/svn-buddy.phar.sig",
		Stability:    release.Stable,
	}
}

func snapshot(version string, date time.Time) release.Release {
	r := stable(version, date)
	r.Stability = release.Snapshot
	return r
}

func TestReplaceStableReleases(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)

	if err := db.InsertSnapshot(ctx, snapshot("aaa111", day(1))); err != nil {
		t.Fatal(err)
	}

	first := []release.Release{stable("1.0.0", day(2)), stable("1.1.0", day(5))}
	if err := db.ReplaceStableReleases(ctx, first, nil); err != nil {
		t.Fatal(err)
	}

	// Second pass drops 1.0.0, as if upstream unpublished it.
	second := []release.Release{stable("1.1.0", day(5)), stable("2.0.0", day(10))}
	if err := db.ReplaceStableReleases(ctx, second, nil); err != nil {
		t.Fatal(err)
	}

	all, err := db.ListReleases(ctx)
	if err != nil {
		t.Fatal(err)
	}

	exp := []release.Release{stable("2.0.0", day(10)), stable("1.1.0", day(5)), snapshot("aaa111", day(1))}
	if diff := cmp.Diff(exp, all); diff != "" {
		t.Fatal("unexpected catalog (-want,+got)", diff)
	}
}

func TestInsertSnapshotDuplicate(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)

	if err := db.InsertSnapshot(ctx, snapshot("abc123", day(1))); err != nil {
		t.Fatal(err)
	}
	err := db.InsertSnapshot(ctx, snapshot("abc123", day(2)))
	if !errors.Is(err, ErrDuplicateVersion) {
		t.Fatalf("expected ErrDuplicateVersion, got %v", err)
	}
}

func TestFindSnapshotByVersion(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)

	if _, found, err := db.FindSnapshotByVersion(ctx, "abc123"); err != nil {
		t.Fatal(err)
	} else if found {
		t.Fatal("expected no snapshot in empty catalog")
	}

	exp := snapshot("abc123", day(1))
	if err := db.InsertSnapshot(ctx, exp); err != nil {
		t.Fatal(err)
	}

	got, found, err := db.FindSnapshotByVersion(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected snapshot to be found")
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatal("unexpected snapshot (-want,+got)", diff)
	}

	// Stable rows are invisible to the snapshot lookup.
	if err := db.ReplaceStableReleases(ctx, []release.Release{stable("1.0.0", day(2))}, nil); err != nil {
		t.Fatal(err)
	}
	if _, found, err := db.FindSnapshotByVersion(ctx, "1.0.0"); err != nil {
		t.Fatal(err)
	} else if found {
		t.Fatal("stable release must not be found as snapshot")
	}
}

func TestLatestPerStability(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)

	latest, err := db.LatestPerStability(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 0 {
		t.Fatalf("expected empty map for empty catalog, got %v", latest)
	}

	stables := []release.Release{stable("1.0.0", day(2)), stable("1.1.0", day(10))}
	if err := db.ReplaceStableReleases(ctx, stables, nil); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertSnapshot(ctx, snapshot("aaa", day(4))); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertSnapshot(ctx, snapshot("bbb", day(8))); err != nil {
		t.Fatal(err)
	}

	latest, err = db.LatestPerStability(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := latest[release.Stable].VersionName; got != "1.1.0" {
		t.Fatalf("expected latest stable 1.1.0, got %s", got)
	}
	if got := latest[release.Snapshot].VersionName; got != "bbb" {
		t.Fatalf("expected latest snapshot bbb, got %s", got)
	}
}

func TestLatestPerStabilityTieBreak(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)

	// Same release date: the lexicographically larger version name wins,
	// deterministically.
	if err := db.InsertSnapshot(ctx, snapshot("aaa", day(5))); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertSnapshot(ctx, snapshot("zzz", day(5))); err != nil {
		t.Fatal(err)
	}

	latest, err := db.LatestPerStability(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := latest[release.Snapshot].VersionName; got != "zzz" {
		t.Fatalf("expected tie-break winner zzz, got %s", got)
	}
}

func TestSnapshotsOlderThan(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)

	for _, r := range []release.Release{
		snapshot("old1", day(1)),
		snapshot("old2", day(3)),
		snapshot("new1", day(20)),
	} {
		if err := db.InsertSnapshot(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.ReplaceStableReleases(ctx, []release.Release{stable("0.1.0", day(1))}, nil); err != nil {
		t.Fatal(err)
	}

	versions, err := db.SnapshotsOlderThan(ctx, day(10), "none")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"old1", "old2"}, versions); diff != "" {
		t.Fatal("unexpected expired versions (-want,+got)", diff)
	}

	// The excluded version never comes back, even when expired.
	versions, err = db.SnapshotsOlderThan(ctx, day(10), "old2")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"old1"}, versions); diff != "" {
		t.Fatal("unexpected expired versions (-want,+got)", diff)
	}
}

func TestDeleteVersions(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)

	if err := db.DeleteVersions(ctx, nil); err != nil {
		t.Fatal(err)
	}

	for _, r := range []release.Release{snapshot("a", day(1)), snapshot("b", day(2)), snapshot("c", day(3))} {
		if err := db.InsertSnapshot(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	if err := db.DeleteVersions(ctx, []string{"a", "c", "missing"}); err != nil {
		t.Fatal(err)
	}

	all, err := db.ListReleases(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].VersionName != "b" {
		t.Fatalf("expected only b to remain, got %v", all)
	}
}

func TestDownloadURL(t *testing.T) {
	ctx := context.Background()
	db := initTestDB(t)

	if err := db.InsertSnapshot(ctx, snapshot("abc123", day(1))); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		version string
		file    string
		want    string
	}{
		{"abc123", "svn-buddy.phar", "https://example.com/abc123/svn-buddy.phar"},
		{"abc123", "svn-buddy.phar.sig", "https://example.com/abc123/svn-buddy.phar.sig"},
		{"abc123", "evil.phar", ""}, // unrecognized file name
		{"unknown", "svn-buddy.phar", ""},
	}

	for _, tc := range tests {
		got, err := db.DownloadURL(ctx, tc.version, tc.file)
		if tc.want == "" {
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("DownloadURL(%s, %s): expected ErrNotFound, got %v", tc.version, tc.file, err)
			}
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Fatalf("DownloadURL(%s, %s): expected %q, got %q", tc.version, tc.file, tc.want, got)
		}
	}

	// A release row without the requested artifact is also a miss.
	if err := db.ReplaceStableReleases(ctx, []release.Release{{VersionName: "1.0.0", ReleaseDate: day(2)}}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := db.DownloadURL(ctx, "1.0.0", "svn-buddy.phar.sig"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing artifact, got %v", err)
	}
}
