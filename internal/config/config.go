// Package config defines the configuration file structure for the updater.
// Configuration is explicit: the loaded Root is handed to constructors, and
// nothing reads the environment at call time. Fields that commonly hold
// credentials (API token, database DSN) support ${ENV} expansion, resolved
// where the value is used.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/console-helpers/svn-buddy-updater/internal/logging"
)

// Root is the top-level configuration structure.
type Root struct {
	Database     *Database      `json:"database,omitempty"`
	Storage      ObjectStorage  `json:"storage"`
	Upstream     Upstream       `json:"upstream"`
	Git          Git            `json:"git"`
	Build        Build          `json:"build"`
	Retention    Retention      `json:"retention"`
	Schedule     Schedule       `json:"schedule"`
	Server       *Server        `json:"server,omitempty"`
	Logging      logging.Config `json:"logging"`
	SnapshotsDir string         `json:"snapshots_dir,omitempty"`
}

// Database selects the catalog database. If nil, a memory-only SQLite
// database is used.
type Database struct {
	SQL *SQLDatabase `json:"sql,omitempty"`
}

type SQLDatabase struct {
	Driver string `json:"driver"` // sqlite (default), postgres or mysql
	DSN    string `json:"dsn"`    // ${ENV} expanded at connect time
	Debug  bool   `json:"debug,omitempty"`
}

// ObjectStorage configures the artifact bucket.
type ObjectStorage struct {
	AmazonS3 *AmazonS3 `json:"aws,omitempty"`
}

type AmazonS3 struct {
	Bucket string `json:"bucket"`
	Region string `json:"region"`
	URL    string `json:"url,omitempty"` // endpoint override for S3-compatible stores
}

// Upstream identifies the repository whose published releases feed the
// stable channel.
type Upstream struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Token string `json:"token,omitempty"` // ${ENV} expanded at client construction
	URL   string `json:"url,omitempty"`   // API base URL override
}

// Git identifies the tracked source repository snapshots are cut from.
type Git struct {
	Repo      string `json:"repo"`
	Reference string `json:"reference,omitempty"` // branch name, defaults to master
	Path      string `json:"path"`                // local clone directory
}

// Build configures the artifact build command. The command runs with its
// working directory set to a disposable checkout and receives the artifact
// output directory in the OUTPUT_DIR environment variable.
type Build struct {
	Command []string `json:"command"`
	Timeout Duration `json:"timeout,omitempty"`
}

type Retention struct {
	Window Duration `json:"window,omitempty"` // defaults to 3 weeks
}

// Schedule sets the intervals of the two sync flows in run mode.
type Schedule struct {
	Stable   Duration `json:"stable,omitempty"`
	Snapshot Duration `json:"snapshot,omitempty"`
}

type Server struct {
	Addr string `json:"addr"`
}

const (
	defaultRetentionWindow  = Duration(3 * 7 * 24 * time.Hour)
	defaultStableInterval   = Duration(time.Hour)
	defaultSnapshotInterval = Duration(time.Hour)
	defaultGitReference     = "master"
)

// Load reads and parses the configuration file at path and applies defaults.
func Load(path string) (*Root, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(bs)
}

func Parse(bs []byte) (*Root, error) {
	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	root.SetDefaults()
	return &root, nil
}

func (r *Root) SetDefaults() {
	if r.Git.Reference == "" {
		r.Git.Reference = defaultGitReference
	}
	if r.Retention.Window == 0 {
		r.Retention.Window = defaultRetentionWindow
	}
	if r.Schedule.Stable == 0 {
		r.Schedule.Stable = defaultStableInterval
	}
	if r.Schedule.Snapshot == 0 {
		r.Schedule.Snapshot = defaultSnapshotInterval
	}
}

// Validate checks the fields the sync flows cannot run without.
func (r *Root) Validate() error {
	if r.Upstream.Owner == "" || r.Upstream.Repo == "" {
		return errors.New("upstream: owner and repo are required")
	}
	if r.Git.Repo == "" {
		return errors.New("git: repo is required")
	}
	if r.Git.Path == "" {
		return errors.New("git: path is required")
	}
	if len(r.Build.Command) == 0 {
		return errors.New("build: command is required")
	}
	if r.Storage.AmazonS3 == nil {
		return errors.New("storage: aws is required")
	}
	if r.Storage.AmazonS3.Bucket == "" {
		return errors.New("storage: aws.bucket is required")
	}
	if r.Database != nil && r.Database.SQL != nil {
		switch r.Database.SQL.Driver {
		case "", "sqlite", "sqlite3", "postgres", "pgx", "mysql":
		default:
			return fmt.Errorf("database: unsupported driver %q", r.Database.SQL.Driver)
		}
	}
	return nil
}

// Duration is a time.Duration that (un)marshals as a duration string like
// "72h" or "30m".
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(bs []byte) error {
	return d.unmarshal(bs)
}

func (d *Duration) UnmarshalYAML(bs []byte) error {
	return d.unmarshal(bs)
}

func (d *Duration) unmarshal(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}
