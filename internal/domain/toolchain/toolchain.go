// Package toolchain holds the value types shared by the resolver, locator,
// fetcher, installer and orchestrator: commit identifiers, release channels,
// build variants, component specs and archive descriptors.
package toolchain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

const (
	// CommitLength is the number of hex digits in a full rustc commit hash.
	CommitLength = 40

	// ComponentCompiler is the host compiler component name.
	ComponentCompiler = "rustc"
	// ComponentStandardLibrary is the per-target standard library component name.
	ComponentStandardLibrary = "rust-std"
	// ComponentSource is the target-independent source component name.
	ComponentSource = "rust-src"
)

var (
	// ErrInvalidCommit is returned when a commit hash is not a full 40-digit hex string.
	ErrInvalidCommit = errors.New("commit must be a full 40-digit hex hash")
	// ErrInvalidChannel is returned when a channel is neither a known label nor a release version.
	ErrInvalidChannel = errors.New("unknown release channel")
)

// Commit is a full 40-digit hex hash naming a specific rustc CI build.
// The zero value means "latest HEAD commit", to be resolved before use.
type Commit string

// IsLatest reports whether the commit still needs to be resolved to a concrete hash.
func (c Commit) IsLatest() bool {
	return c == ""
}

// String returns the raw hash.
func (c Commit) String() string {
	return string(c)
}

// ParseCommit validates that s is a full 40-digit lowercase hex hash.
func ParseCommit(s string) (Commit, error) {
	if len(s) != CommitLength {
		return "", fmt.Errorf("%w: got %d digits", ErrInvalidCommit, len(s))
	}

	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", fmt.Errorf("%w: %q", ErrInvalidCommit, s)
		}
	}

	return Commit(s), nil
}

// Channel is the release track a build belongs to: "nightly", "beta",
// or a stable release version such as "1.84.0". The channel appears in
// archive file names and must match what the artifact store used.
type Channel string

const (
	// ChannelNightly is the nightly release track.
	ChannelNightly Channel = "nightly"
	// ChannelBeta is the beta release track.
	ChannelBeta Channel = "beta"
	// ChannelStable is the unversioned stable label used by legacy archive names.
	ChannelStable Channel = "stable"
)

// ProbeChannels returns the channels tried when detecting a channel by
// probing archive names directly, in probe order.
func ProbeChannels() []Channel {
	return []Channel{ChannelNightly, ChannelBeta, ChannelStable}
}

// String returns the channel label.
func (c Channel) String() string {
	return string(c)
}

// ParseChannel validates a channel label. Besides the fixed labels, any
// semantic version is accepted as a numbered stable channel, since stable
// artifacts embed the release version in their archive names.
func ParseChannel(s string) (Channel, error) {
	s = strings.TrimSpace(s)

	switch Channel(s) {
	case ChannelNightly, ChannelBeta, ChannelStable:
		return Channel(s), nil
	}

	if _, err := semver.Parse(s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}

	return Channel(s), nil
}

// Variant selects the build namespace on the artifact store.
type Variant string

const (
	// VariantNormal is the regular CI build.
	VariantNormal Variant = "normal"
	// VariantAlt is the alternate build (e.g. with extra debug assertions).
	VariantAlt Variant = "alt"
)

// VariantFromAlt maps the --alt flag to a Variant.
func VariantFromAlt(alt bool) Variant {
	if alt {
		return VariantAlt
	}

	return VariantNormal
}

// Prefix returns the store path segment for the variant.
func (v Variant) Prefix() string {
	if v == VariantAlt {
		return "rustc-builds-alt"
	}

	return "rustc-builds"
}

// DestName derives the toolchain directory name for a commit: the explicit
// name when provided, otherwise the commit hash with an "-alt" suffix for
// alternate builds.
func (v Variant) DestName(commit Commit, name string) string {
	if name != "" {
		return name
	}

	if v == VariantAlt {
		return commit.String() + "-alt"
	}

	return commit.String()
}

// ComponentKind classifies components for layout decisions in the installer.
type ComponentKind int

const (
	// KindCompiler is the host compiler (rustc).
	KindCompiler ComponentKind = iota
	// KindStandardLibrary is the per-target standard library (rust-std).
	KindStandardLibrary
	// KindSource is the target-independent source tree (rust-src).
	KindSource
	// KindTool is any other component (cargo, clippy, rustfmt, ...).
	KindTool
)

// ComponentSpec names a component together with the target triple it applies
// to. The target is empty for target-independent components.
type ComponentSpec struct {
	// Name is the component name, e.g. "rustc" or "rust-std".
	Name string
	// Target is the triple the component is built for, empty for rust-src.
	Target string
}

// NewComponentSpec builds a spec for the given component and target,
// dropping the target for target-independent components.
func NewComponentSpec(name, target string) ComponentSpec {
	if name == ComponentSource {
		// rust-src is the only target-independent component.
		target = ""
	}

	return ComponentSpec{Name: name, Target: target}
}

// Kind returns the layout classification for the component.
func (s ComponentSpec) Kind() ComponentKind {
	switch s.Name {
	case ComponentCompiler:
		return KindCompiler
	case ComponentStandardLibrary:
		return KindStandardLibrary
	case ComponentSource:
		return KindSource
	default:
		return KindTool
	}
}

// ArchiveBase returns the archive file name without extension, as published
// by the artifact store: <name>-<channel>[-<target>].
func (s ComponentSpec) ArchiveBase(channel Channel) string {
	if s.Target == "" {
		return fmt.Sprintf("%s-%s", s.Name, channel)
	}

	return fmt.Sprintf("%s-%s-%s", s.Name, channel, s.Target)
}

// String renders the component for logs and error messages.
func (s ComponentSpec) String() string {
	if s.Target == "" {
		return s.Name
	}

	return fmt.Sprintf("%s (%s)", s.Name, s.Target)
}

// ArchiveDescriptor is a fully constructed download: the URL of one
// component archive plus the context needed for error reporting.
type ArchiveDescriptor struct {
	// Spec is the component the archive satisfies.
	Spec ComponentSpec
	// Commit is the build the archive belongs to.
	Commit Commit
	// Channel is the release channel embedded in the archive name.
	Channel Channel
	// URL is the full download URL, ending in the fixed .tar.xz extension.
	URL string
}
