package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/console-helpers/svn-buddy-updater/internal/progress"
	"github.com/console-helpers/svn-buddy-updater/internal/release"
)

const releaseColumns = "version_name, release_date, phar_artifact_url, signature_artifact_url, stability"

// ReplaceStableReleases makes the stable channel match releases exactly,
// in one transaction: queries running concurrently never observe a
// half-replaced channel. Snapshot rows are untouched.
func (d *Database) ReplaceStableReleases(ctx context.Context, releases []release.Release, bar *progress.Bar) error {
	bar.AddMax(len(releases))
	return tx1(ctx, d, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM releases WHERE stability = `+d.arg(0), string(release.Stable)); err != nil {
			return err
		}
		for _, r := range releases {
			r.Stability = release.Stable
			if err := d.insertRelease(ctx, tx, r); err != nil {
				return err
			}
			bar.Add(1)
		}
		return nil
	})
}

// InsertSnapshot catalogs a freshly built snapshot. A version name already
// present, on either channel, yields ErrDuplicateVersion.
func (d *Database) InsertSnapshot(ctx context.Context, r release.Release) error {
	return tx1(ctx, d, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM releases WHERE version_name = `+d.arg(0), r.VersionName).Scan(&one)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateVersion, r.VersionName)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		r.Stability = release.Snapshot
		return d.insertRelease(ctx, tx, r)
	})
}

// FindSnapshotByVersion reports whether a snapshot for the given commit hash
// is already cataloged.
func (d *Database) FindSnapshotByVersion(ctx context.Context, versionName string) (release.Release, bool, error) {
	return tx3(ctx, d, func(tx *sql.Tx) (release.Release, bool, error) {
		row := tx.QueryRowContext(ctx, `SELECT `+releaseColumns+` FROM releases WHERE version_name = `+d.arg(0)+` AND stability = `+d.arg(1),
			versionName, string(release.Snapshot))
		r, err := scanRelease(row)
		if errors.Is(err, sql.ErrNoRows) {
			return release.Release{}, false, nil
		}
		if err != nil {
			return release.Release{}, false, err
		}
		return r, true, nil
	})
}

// LatestPerStability returns the newest release of each channel. Channels
// with no releases are absent from the map. Equal release dates are broken
// by version name, so the answer is stable across runs.
func (d *Database) LatestPerStability(ctx context.Context) (map[release.Stability]release.Release, error) {
	return tx2(ctx, d, func(tx *sql.Tx) (map[release.Stability]release.Release, error) {
		latest := make(map[release.Stability]release.Release, len(release.Stabilities))
		for _, s := range release.Stabilities {
			row := tx.QueryRowContext(ctx, `SELECT `+releaseColumns+` FROM releases WHERE stability = `+d.arg(0)+
				` ORDER BY release_date DESC, version_name DESC LIMIT 1`, string(s))
			r, err := scanRelease(row)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return nil, err
			}
			latest[s] = r
		}
		return latest, nil
	})
}

// SnapshotsOlderThan returns the version names of snapshots released before
// cutoff, oldest first. The excluding version is never returned; the
// retention sweep passes the newest snapshot here so the channel cannot be
// emptied.
func (d *Database) SnapshotsOlderThan(ctx context.Context, cutoff time.Time, excluding string) ([]string, error) {
	return tx2(ctx, d, func(tx *sql.Tx) ([]string, error) {
		rows, err := tx.QueryContext(ctx, `SELECT version_name FROM releases WHERE stability = `+d.arg(0)+
			` AND release_date < `+d.arg(1)+` AND version_name != `+d.arg(2)+` ORDER BY release_date ASC, version_name ASC`,
			string(release.Snapshot), cutoff.Unix(), excluding)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var versions []string
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return nil, err
			}
			versions = append(versions, v)
		}
		return versions, rows.Err()
	})
}

// DeleteVersions removes the given catalog rows. Missing versions are not an
// error.
func (d *Database) DeleteVersions(ctx context.Context, versions []string) error {
	if len(versions) == 0 {
		return nil
	}
	return tx1(ctx, d, func(tx *sql.Tx) error {
		placeholders := make([]string, len(versions))
		args := make([]any, len(versions))
		for i, v := range versions {
			placeholders[i] = d.arg(i)
			args[i] = v
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM releases WHERE version_name IN (`+strings.Join(placeholders, ", ")+`)`, args...)
		return err
	})
}

// DownloadURL resolves a version/file pair to the stored artifact URL.
// Unknown file names, unknown versions and versions without the requested
// artifact all return ErrNotFound; the caller turns that into a 404.
func (d *Database) DownloadURL(ctx context.Context, versionName, fileName string) (string, error) {
	kind, ok := release.KindForAsset(fileName)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, fileName)
	}
	return tx2(ctx, d, func(tx *sql.Tx) (string, error) {
		column := "phar_artifact_url"
		if kind == release.Signature {
			column = "signature_artifact_url"
		}
		var url sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT `+column+` FROM releases WHERE version_name = `+d.arg(0), versionName).Scan(&url)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, versionName)
		}
		if err != nil {
			return "", err
		}
		if url.String == "" {
			return "", fmt.Errorf("%w: %s has no %s", ErrNotFound, versionName, fileName)
		}
		return url.String, nil
	})
}

// ListReleases returns the whole catalog, newest first.
func (d *Database) ListReleases(ctx context.Context) ([]release.Release, error) {
	return tx2(ctx, d, func(tx *sql.Tx) ([]release.Release, error) {
		rows, err := tx.QueryContext(ctx, `SELECT `+releaseColumns+` FROM releases ORDER BY release_date DESC, version_name DESC`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var releases []release.Release
		for rows.Next() {
			r, err := scanRelease(rows)
			if err != nil {
				return nil, err
			}
			releases = append(releases, r)
		}
		return releases, rows.Err()
	})
}

func (d *Database) insertRelease(ctx context.Context, tx *sql.Tx, r release.Release) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO releases (`+releaseColumns+`) VALUES (`+d.args(5)+`)`,
		r.VersionName, r.ReleaseDate.Unix(), r.PharURL, r.SignatureURL, string(r.Stability))
	return err
}

func (d *Database) args(n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = d.arg(i)
	}
	return strings.Join(parts, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRelease(row scanner) (release.Release, error) {
	var r release.Release
	var date int64
	var pharURL, sigURL sql.NullString
	var stability string
	if err := row.Scan(&r.VersionName, &date, &pharURL, &sigURL, &stability); err != nil {
		return release.Release{}, err
	}
	r.ReleaseDate = time.Unix(date, 0).UTC()
	r.PharURL = pharURL.String
	r.SignatureURL = sigURL.String
	r.Stability = release.Stability(stability)
	return r, nil
}
