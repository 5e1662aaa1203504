// Package upstream fetches published releases from the tracked repository's
// release API. Drafts and prereleases are not part of the stable channel and
// are skipped.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/go-github/v75/github"

	"github.com/console-helpers/svn-buddy-updater/internal/config"
	"github.com/console-helpers/svn-buddy-updater/internal/logging"
	"github.com/console-helpers/svn-buddy-updater/internal/release"
)

// ErrUpstreamFetch wraps every failure to list releases, so callers can tell
// upstream trouble apart from catalog trouble.
var ErrUpstreamFetch = errors.New("upstream fetch failed")

type Source struct {
	client *github.Client
	owner  string
	repo   string
	log    *logging.Logger
}

func New(cfg config.Upstream, log *logging.Logger) (*Source, error) {
	client := github.NewClient(nil)
	if cfg.Token != "" {
		client = client.WithAuthToken(os.ExpandEnv(cfg.Token))
	}
	if cfg.URL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.URL, cfg.URL)
		if err != nil {
			return nil, err
		}
	}
	return &Source{client: client, owner: cfg.Owner, repo: cfg.Repo, log: log}, nil
}

// FetchReleases lists every published release, newest first per the API's
// default ordering. The tag name becomes the catalog version name, and the
// recognized asset download URLs are carried over.
func (s *Source) FetchReleases(ctx context.Context) ([]release.Release, error) {
	var out []release.Release

	opts := &github.ListOptions{PerPage: 100}
	for {
		page, resp, err := s.client.Repositories.ListReleases(ctx, s.owner, s.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %v", ErrUpstreamFetch, s.owner, s.repo, err)
		}

		for _, rel := range page {
			if rel.GetDraft() || rel.GetPrerelease() {
				continue
			}
			r := release.Release{
				VersionName: rel.GetTagName(),
				ReleaseDate: rel.GetPublishedAt().Time.UTC(),
				Stability:   release.Stable,
			}
			for _, asset := range rel.Assets {
				kind, ok := release.KindForAsset(asset.GetName())
				if !ok {
					s.log.Debugf("Skipping unrecognized asset %q on release %s.", asset.GetName(), r.VersionName)
					continue
				}
				r.SetArtifactURL(kind, asset.GetBrowserDownloadURL())
			}
			out = append(out, r)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	s.log.Debugf("Fetched %d published releases from %s/%s.", len(out), s.owner, s.repo)
	return out, nil
}
