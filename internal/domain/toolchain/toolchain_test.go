package toolchain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseCommit checks hash length and hex digit validation.
func TestParseCommit(t *testing.T) {
	t.Parallel()

	commit, err := ParseCommit("4fb54ed484e2239a3e9eff3be17df00d2a162be3")
	require.NoError(t, err)
	require.False(t, commit.IsLatest())

	// Too short.
	_, err = ParseCommit("4fb54ed")
	require.ErrorIs(t, err, ErrInvalidCommit)

	// Right length, bad digit.
	_, err = ParseCommit("4fb54ed484e2239a3e9eff3be17df00d2a162beZ")
	require.ErrorIs(t, err, ErrInvalidCommit)

	// Uppercase hex is rejected, the store is keyed by lowercase hashes.
	_, err = ParseCommit("4FB54ED484E2239A3E9EFF3BE17DF00D2A162BE3")
	require.ErrorIs(t, err, ErrInvalidCommit)
}

// TestParseChannel accepts fixed labels and stable release versions only.
func TestParseChannel(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"nightly", "beta", "stable", "1.84.0", " nightly\n"} {
		ch, err := ParseChannel(s)
		require.NoError(t, err, s)
		require.NotEmpty(t, ch)
	}

	for _, s := range []string{"", "weekly", "1.84", "nightly-2024"} {
		_, err := ParseChannel(s)
		require.ErrorIs(t, err, ErrInvalidChannel, s)
	}
}

// TestVariantNaming covers store prefixes and destination directory naming.
func TestVariantNaming(t *testing.T) {
	t.Parallel()

	commit := Commit("4fb54ed484e2239a3e9eff3be17df00d2a162be3")

	require.Equal(t, "rustc-builds", VariantNormal.Prefix())
	require.Equal(t, "rustc-builds-alt", VariantAlt.Prefix())

	require.Equal(t, commit.String(), VariantNormal.DestName(commit, ""))
	require.Equal(t, commit.String()+"-alt", VariantAlt.DestName(commit, ""))
	require.Equal(t, "my-toolchain", VariantAlt.DestName(commit, "my-toolchain"))

	require.Equal(t, VariantAlt, VariantFromAlt(true))
	require.Equal(t, VariantNormal, VariantFromAlt(false))
}

// TestComponentSpec covers target-independence, kinds and archive naming.
func TestComponentSpec(t *testing.T) {
	t.Parallel()

	host := "x86_64-unknown-linux-gnu"

	rustc := NewComponentSpec(ComponentCompiler, host)
	require.Equal(t, KindCompiler, rustc.Kind())
	require.Equal(t, "rustc-nightly-"+host, rustc.ArchiveBase(ChannelNightly))

	std := NewComponentSpec(ComponentStandardLibrary, "aarch64-apple-darwin")
	require.Equal(t, KindStandardLibrary, std.Kind())
	require.Equal(t, "rust-std-beta-aarch64-apple-darwin", std.ArchiveBase(ChannelBeta))

	// rust-src drops the target even when one is supplied.
	src := NewComponentSpec(ComponentSource, host)
	require.Empty(t, src.Target)
	require.Equal(t, KindSource, src.Kind())
	require.Equal(t, "rust-src-nightly", src.ArchiveBase(ChannelNightly))

	cargo := NewComponentSpec("cargo", host)
	require.Equal(t, KindTool, cargo.Kind())
	require.Equal(t, "cargo-1.84.0-"+host, cargo.ArchiveBase(Channel("1.84.0")))
}
