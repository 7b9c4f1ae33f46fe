package installer

import (
	"github.com/oshokin/rustc-artifact-fetcher/internal/domain/toolchain"
)

// layout describes how one kind of component maps from its archive layout
// into the toolchain directory.
type layout struct {
	// payloadDir returns the directory inside the archive holding the
	// component's payload. Archives can bundle several components; only
	// this directory belongs to the requested one.
	payloadDir func(spec toolchain.ComponentSpec) string
	// rewrite maps a payload-relative path to its destination relative to
	// the toolchain root.
	rewrite func(rel string) string
}

// sameAsArchive keeps the payload-relative path: compiler payloads already
// use bin/ and lib/, standard libraries already use lib/rustlib/<target>/,
// matching what the toolchain manager expects.
func sameAsArchive(rel string) string {
	return rel
}

// layouts is the closed set of component layouts.
var layouts = map[toolchain.ComponentKind]layout{
	toolchain.KindCompiler: {
		payloadDir: func(toolchain.ComponentSpec) string { return toolchain.ComponentCompiler },
		rewrite:    sameAsArchive,
	},
	toolchain.KindStandardLibrary: {
		payloadDir: func(spec toolchain.ComponentSpec) string {
			return toolchain.ComponentStandardLibrary + "-" + spec.Target
		},
		rewrite: sameAsArchive,
	},
	toolchain.KindSource: {
		payloadDir: func(toolchain.ComponentSpec) string { return toolchain.ComponentSource },
		rewrite:    sameAsArchive,
	},
	toolchain.KindTool: {
		payloadDir: func(spec toolchain.ComponentSpec) string { return spec.Name },
		rewrite:    sameAsArchive,
	},
}
