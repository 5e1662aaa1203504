// Package gitsync maintains a local clone of the tracked source repository
// and answers the snapshot flow's questions about it: which commit closed
// the previous week, and a disposable checkout of that commit to build from.
// The Synchronizer is not thread-safe; the caller serializes access.
package gitsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/capability"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/console-helpers/svn-buddy-updater/internal/config"
	"github.com/console-helpers/svn-buddy-updater/internal/logging"
)

// ErrSourceControl wraps every failure of the clone/fetch/checkout cycle.
var ErrSourceControl = errors.New("source control failed")

// configFile tracks which configuration an earlier clone was made with, so a
// changed repository URL or reference wipes the clone instead of corrupting
// it. NB: lives inside .git so it never shadows repository content.
const configFile = "sbuconfig"

func init() {
	// For Azure DevOps compatibility. More details: https://github.com/go-git/go-git/issues/64
	transport.UnsupportedCapabilities = []capability.Capability{
		capability.ThinPack,
	}
}

type Synchronizer struct {
	path   string
	config config.Git
	log    *logging.Logger
}

// New creates a Synchronizer maintaining the clone at config.Path. The
// directory is created on first Execute if missing.
func New(config config.Git, log *logging.Logger) *Synchronizer {
	return &Synchronizer{path: config.Path, config: config, log: log}
}

// Execute brings the local clone up to date with the remote: clone if the
// path holds no repository, otherwise fetch and force-checkout the tracked
// reference, discarding local changes.
func (s *Synchronizer) Execute(ctx context.Context) error {
	if err := s.execute(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSourceControl, s.config.Repo, err)
	}
	return nil
}

func (s *Synchronizer) execute(ctx context.Context) error {
	referenceName := plumbing.NewBranchReferenceName(s.config.Reference)

	// A configuration change may necessitate wiping an earlier clone: in
	// particular, re-cloning is the easiest option if the repository URL has
	// changed. For simplicity, follow the same logic with any config change.

	if data, err := os.ReadFile(filepath.Join(s.path, ".git", configFile)); err == nil {
		var previous config.Git
		if err := json.Unmarshal(data, &previous); err != nil || previous != s.config {
			s.log.Infof("Git configuration changed, wiping clone at %s.", s.path)
			if err := os.RemoveAll(s.path); err != nil {
				return err
			}
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	repository, err := git.PlainOpen(s.path)
	if errors.Is(err, git.ErrRepositoryNotExists) { // does not exist? clone it
		repository, err = git.PlainCloneContext(ctx, s.path, false, &git.CloneOptions{
			URL:           s.config.Repo,
			ReferenceName: referenceName,
			SingleBranch:  true,
			NoCheckout:    true, // We will checkout later
		})
		if err != nil {
			return err
		}

		data, err := json.Marshal(s.config)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(s.path, ".git", configFile), data, 0644); err != nil {
			return err
		}
	} else if err != nil { // other errors are bubbled up
		return err
	}

	remote := "origin"
	if err := repository.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remote,
		Force:      true,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/refs/heads/*", remote)),
		},
	}); err != nil && err != git.NoErrAlreadyUpToDate {
		return err
	}

	// Advance the local branch to the fetched hash before checking it out.
	// TempCheckout clones from this path, and a clone only transfers what
	// refs/heads/* reaches.
	remoteRef, err := repository.Reference(plumbing.ReferenceName(fmt.Sprintf("refs/remotes/%s/refs/heads/%s", remote, s.config.Reference)), true)
	if err != nil {
		return err
	}
	if err := repository.Storer.SetReference(plumbing.NewHashReference(referenceName, remoteRef.Hash())); err != nil {
		return err
	}

	w, err := repository.Worktree()
	if err != nil {
		return err
	}

	return w.Checkout(&git.CheckoutOptions{
		Branch: referenceName,
		Force:  true, // Discard any local changes
	})
}

// CommitBeforeCutoff walks the tracked reference's history and returns the
// newest commit whose committer timestamp is strictly before cutoff. Found
// is false when every commit is at or past the cutoff.
func (s *Synchronizer) CommitBeforeCutoff(ctx context.Context, cutoff time.Time) (hash string, committedAt time.Time, found bool, err error) {
	repository, err := git.PlainOpen(s.path)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("%w: %v", ErrSourceControl, err)
	}

	head, err := repository.Head()
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("%w: %v", ErrSourceControl, err)
	}

	// Committer-time order keeps the walk newest-first across merges; the
	// default DFS order can surface a first-parent commit older than an
	// eligible side-branch commit.
	iter, err := repository.Log(&git.LogOptions{From: head.Hash(), Order: git.LogOrderCommitterTime})
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("%w: %v", ErrSourceControl, err)
	}
	defer iter.Close()

	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.Committer.When.Before(cutoff) {
			hash = c.Hash.String()
			committedAt = c.Committer.When.UTC()
			found = true
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("%w: %v", ErrSourceControl, err)
	}

	return hash, committedAt, found, nil
}

// TempCheckout clones the local repository into a fresh temporary directory
// and checks out the given commit. The returned cleanup removes the
// directory; builds never run inside the maintained clone.
func (s *Synchronizer) TempCheckout(ctx context.Context, hash string) (dir string, cleanup func(), err error) {
	dir, err = os.MkdirTemp("", "svn-buddy-checkout-")
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrSourceControl, err)
	}
	cleanup = func() {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warnf("Failed to remove temporary checkout %s: %v.", dir, err)
		}
	}

	repository, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:        s.path,
		NoCheckout: true,
	})
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%w: %v", ErrSourceControl, err)
	}

	w, err := repository.Worktree()
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%w: %v", ErrSourceControl, err)
	}

	if err := w.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(hash), Force: true}); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%w: %v", ErrSourceControl, err)
	}

	return dir, cleanup, nil
}

// WeeklyCutoff returns the start of the current ISO week (Monday 00:00) in
// now's location. Commits at or past the cutoff belong to the in-progress
// week and are not snapshot material.
func WeeklyCutoff(now time.Time) time.Time {
	daysSinceMonday := int(now.Weekday()) - int(time.Monday)
	if daysSinceMonday < 0 {
		daysSinceMonday += 7 // Sunday
	}
	year, month, day := now.AddDate(0, 0, -daysSinceMonday).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location())
}
