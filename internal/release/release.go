// Package release holds the domain types shared by the catalog, the
// synchronization flows and the HTTP query surface.
package release

import "time"

// Stability identifies the channel a release belongs to. There are exactly
// two channels: upstream-published stable releases and weekly snapshots
// built from source control.
type Stability string

const (
	Stable   Stability = "stable"
	Snapshot Stability = "snapshot"
)

// Stabilities lists every valid channel, in a fixed order.
var Stabilities = []Stability{Stable, Snapshot}

func (s Stability) Valid() bool {
	return s == Stable || s == Snapshot
}

// ArtifactKind is the closed set of artifact files attached to a release:
// the phar binary and its detached signature.
type ArtifactKind int

const (
	Phar ArtifactKind = iota
	Signature
)

const (
	PharFileName      = "svn-buddy.phar"
	SignatureFileName = "svn-buddy.phar.sig"
)

// FileName returns the artifact file name both upstream release assets and
// object-store keys use for this kind.
func (k ArtifactKind) FileName() string {
	if k == Signature {
		return SignatureFileName
	}
	return PharFileName
}

// KindForAsset maps an asset or download file name back to its artifact
// kind. Unrecognized names return false and are ignored by the callers.
func KindForAsset(name string) (ArtifactKind, bool) {
	switch name {
	case PharFileName:
		return Phar, true
	case SignatureFileName:
		return Signature, true
	}
	return 0, false
}

// Release is the catalog's sole entity. VersionName is the upstream tag for
// stable releases and the full commit hash for snapshots; it is unique
// across both channels.
type Release struct {
	VersionName  string
	ReleaseDate  time.Time
	PharURL      string
	SignatureURL string
	Stability    Stability
}

// SetArtifactURL stores url in the column slot belonging to kind.
func (r *Release) SetArtifactURL(kind ArtifactKind, url string) {
	switch kind {
	case Phar:
		r.PharURL = url
	case Signature:
		r.SignatureURL = url
	}
}

// ArtifactURL returns the stored URL for kind, or the empty string if none
// was recorded.
func (r Release) ArtifactURL(kind ArtifactKind) string {
	if kind == Signature {
		return r.SignatureURL
	}
	return r.PharURL
}
