// Package locator turns a resolved commit and the caller's platform and
// component selection into the ordered set of archive downloads. It is a
// pure function of its inputs; no network calls are made here.
package locator

import (
	"errors"
	"fmt"

	"github.com/oshokin/rustc-artifact-fetcher/internal/domain/toolchain"
)

// archiveExtension is the only compression format the artifact store publishes.
const archiveExtension = "tar.xz"

// ErrNoComponents is returned when defaults are disabled and nothing was requested.
var ErrNoComponents = errors.New("no components to install")

// Request describes one commit's worth of archives to locate.
type Request struct {
	// Commit is the resolved build hash.
	Commit toolchain.Commit
	// Channel is the resolved release channel.
	Channel toolchain.Channel
	// Variant selects the store namespace.
	Variant toolchain.Variant
	// Host is the host platform triple.
	Host string
	// Targets are extra target triples to install the standard library for.
	Targets []string
	// Components are extra component names to install on the host.
	Components []string
	// UseDefaults includes the host compiler and standard library.
	UseDefaults bool
}

// Locate builds the deduplicated, deterministically ordered download set:
// host defaults first, then explicitly requested components in caller order,
// then standard libraries for the extra targets.
func Locate(server string, req Request) ([]toolchain.ArchiveDescriptor, error) {
	var specs []toolchain.ComponentSpec

	if req.UseDefaults {
		specs = append(specs,
			toolchain.NewComponentSpec(toolchain.ComponentCompiler, req.Host),
			toolchain.NewComponentSpec(toolchain.ComponentStandardLibrary, req.Host),
		)
	}

	for _, name := range req.Components {
		specs = append(specs, toolchain.NewComponentSpec(name, req.Host))
	}

	for _, target := range req.Targets {
		specs = append(specs, toolchain.NewComponentSpec(toolchain.ComponentStandardLibrary, target))
	}

	seen := make(map[toolchain.ComponentSpec]struct{}, len(specs))
	descriptors := make([]toolchain.ArchiveDescriptor, 0, len(specs))

	for _, spec := range specs {
		if _, found := seen[spec]; found {
			continue
		}

		seen[spec] = struct{}{}

		descriptors = append(descriptors, toolchain.ArchiveDescriptor{
			Spec:    spec,
			Commit:  req.Commit,
			Channel: req.Channel,
			URL: fmt.Sprintf("%s/%s/%s/%s.%s",
				server, req.Variant.Prefix(), req.Commit, spec.ArchiveBase(req.Channel), archiveExtension),
		})
	}

	if len(descriptors) == 0 {
		return nil, ErrNoComponents
	}

	return descriptors, nil
}
