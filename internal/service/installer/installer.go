// Package installer unpacks fetched component archives into a toolchain
// directory. Each archive is staged fully next to the destination, checked
// for conflicts, and only then promoted, so a failing archive never leaves
// partial content behind.
package installer

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/oshokin/rustc-artifact-fetcher/internal/domain/toolchain"
	"github.com/oshokin/rustc-artifact-fetcher/internal/logger"
)

// manifestFilename lists the payload of a component inside its archive.
const manifestFilename = "manifest.in"

var (
	// errBadArchivePath is returned for absolute, empty or dot-dot path components.
	errBadArchivePath = errors.New("bad path in archive")
	// errUnsupportedEntry is returned for links, devices and other unusual tar content.
	errUnsupportedEntry = errors.New("unsupported archive entry type")
	// errEmptyArchive is returned when no payload files survive manifest filtering.
	errEmptyArchive = errors.New("archive contains no files for the component")
)

// ConflictError reports a destination file that would be overwritten
// without force. It is raised before any byte lands in the destination.
type ConflictError struct {
	// Path is the existing destination file.
	Path string
}

// Error names the conflicting file.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("file `%s` already exists (pass --force to overwrite)", e.Path)
}

// StreamError marks a failure reading the archive stream itself, e.g. a
// truncated or corrupted download, as opposed to unpacking or writing it.
// Callers use it to attribute the failure to the transfer.
type StreamError struct {
	// Err is the underlying read failure.
	Err error
}

// Error names the stream as the failing side.
func (e *StreamError) Error() string {
	return fmt.Sprintf("read archive stream: %v", e.Err)
}

// Unwrap exposes the underlying cause.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// asStreamError wraps err as a StreamError unless it already is one.
func asStreamError(err error) error {
	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		return err
	}

	return &StreamError{Err: err}
}

// streamErrReader tags read failures of the download stream so that later
// stages can tell them apart from disk errors.
type streamErrReader struct {
	r io.Reader
}

func (s streamErrReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = asStreamError(err)
	}

	return n, err
}

// Install decompresses the archive stream and unpacks the component's
// manifest-declared files into destDir, merging with existing content.
// With force unset, any existing destination file aborts the install
// before anything is written; a failure mid-unpack removes everything the
// archive had already written.
func Install(
	ctx context.Context,
	stream io.Reader,
	descriptor toolchain.ArchiveDescriptor,
	destDir string,
	force bool,
) error {
	spec := descriptor.Spec

	componentLayout, found := layouts[spec.Kind()]
	if !found {
		return fmt.Errorf("component `%s`: no layout registered", spec.Name)
	}

	// Stage next to the destination so promotion is a same-filesystem rename.
	staging, err := os.MkdirTemp(filepath.Dir(destDir), "."+filepath.Base(destDir)+"-staging-")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(staging)
	}()

	unpacked, err := unpackToStaging(stream, spec, componentLayout, staging)
	if err != nil {
		return err
	}

	files := unpacked.declaredFiles()
	if len(files) == 0 {
		return fmt.Errorf("component `%s`: %w", spec.Name, errEmptyArchive)
	}

	if !force {
		for _, file := range files {
			dest := filepath.Join(destDir, filepath.FromSlash(componentLayout.rewrite(file)))
			if _, err := os.Lstat(dest); err == nil {
				return &ConflictError{Path: dest}
			}
		}
	}

	if err := promote(files, componentLayout, staging, destDir); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Unpacked component",
		"component", spec.String(),
		"files", len(files))

	return nil
}

// unpackResult captures what one archive contained.
type unpackResult struct {
	// staged are the component-relative paths written to the staging directory.
	staged []string
	// manifestFiles are "file:" entries from the component manifest.
	manifestFiles map[string]struct{}
	// manifestDirs are "dir:" prefixes from the component manifest.
	manifestDirs []string
}

// declaredFiles filters the staged paths down to the manifest subset.
// Archives without a manifest keep everything that was staged.
func (u *unpackResult) declaredFiles() []string {
	if len(u.manifestFiles) == 0 && len(u.manifestDirs) == 0 {
		return u.staged
	}

	files := make([]string, 0, len(u.staged))

	for _, rel := range u.staged {
		if _, declared := u.manifestFiles[rel]; declared {
			files = append(files, rel)
			continue
		}

		for _, dir := range u.manifestDirs {
			if strings.HasPrefix(rel, dir+"/") {
				files = append(files, rel)
				break
			}
		}
	}

	return files
}

// unpackToStaging streams the xz-compressed tar into the staging directory,
// keeping only entries under the component's payload directory and parsing
// the component manifest along the way. Packaging metadata at the archive
// root (install.sh, version, component list) is discarded.
func unpackToStaging(
	stream io.Reader,
	spec toolchain.ComponentSpec,
	componentLayout layout,
	staging string,
) (*unpackResult, error) {
	decompressed, err := xz.NewReader(bufio.NewReader(stream))
	if err != nil {
		return nil, asStreamError(fmt.Errorf("decompress archive: %w", err))
	}

	result := &unpackResult{manifestFiles: make(map[string]struct{})}
	payloadDir := componentLayout.payloadDir(spec)
	reader := tar.NewReader(streamErrReader{r: decompressed})

	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return result, nil
		}

		if err != nil {
			// Includes clean EOFs mid-header, which tar reports as unexpected.
			return nil, asStreamError(err)
		}

		parts, err := splitEntryPath(header.Name)
		if err != nil {
			return nil, err
		}

		// parts[0] is the archive root directory; everything directly under
		// it is packaging metadata, not component payload.
		if len(parts) < 3 || parts[1] != payloadDir {
			continue
		}

		rel := path.Join(parts[2:]...)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(filepath.Join(staging, filepath.FromSlash(rel)), 0o755); err != nil {
				return nil, err
			}
		case tar.TypeReg:
			if rel == manifestFilename {
				if err := parseManifest(reader, result); err != nil {
					return nil, err
				}

				continue
			}

			if err := stageFile(reader, header, staging, rel); err != nil {
				return nil, err
			}

			result.staged = append(result.staged, rel)
		case tar.TypeXHeader, tar.TypeXGlobalHeader:
			// PAX metadata, nothing to extract.
		default:
			return nil, fmt.Errorf("%w: %q in %s", errUnsupportedEntry, header.Typeflag, header.Name)
		}
	}
}

// splitEntryPath validates an archive entry name and returns its components.
// Absolute paths, empty components, "." and ".." are rejected: the archives
// are cross-platform build products and anything unusual is likely hostile.
func splitEntryPath(name string) ([]string, error) {
	if strings.HasPrefix(name, "/") {
		return nil, fmt.Errorf("%w: %q", errBadArchivePath, name)
	}

	trimmed := strings.TrimSuffix(name, "/")
	parts := strings.Split(trimmed, "/")

	for _, part := range parts {
		switch part {
		case "", ".", "..":
			return nil, fmt.Errorf("%w: %q", errBadArchivePath, name)
		}
	}

	return parts, nil
}

// stageFile writes one regular tar entry into the staging directory.
func stageFile(reader io.Reader, header *tar.Header, staging, rel string) error {
	target := filepath.Join(staging, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode).Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()

		if errors.Is(err, io.ErrUnexpectedEOF) {
			return asStreamError(err)
		}

		var streamErr *StreamError
		if errors.As(err, &streamErr) {
			return err
		}

		return fmt.Errorf("write %s: %w", rel, err)
	}

	return file.Close()
}

// parseManifest reads the component manifest: one "file:<path>" or
// "dir:<path>" entry per line, paths relative to the component directory.
func parseManifest(reader io.Reader, result *unpackResult) error {
	contents, err := io.ReadAll(reader)
	if err != nil {
		return asStreamError(fmt.Errorf("read component manifest: %w", err))
	}

	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)

		switch {
		case line == "":
		case strings.HasPrefix(line, "file:"):
			rel, err := cleanManifestPath(strings.TrimPrefix(line, "file:"))
			if err != nil {
				return err
			}

			result.manifestFiles[rel] = struct{}{}
		case strings.HasPrefix(line, "dir:"):
			rel, err := cleanManifestPath(strings.TrimPrefix(line, "dir:"))
			if err != nil {
				return err
			}

			result.manifestDirs = append(result.manifestDirs, rel)
		}
	}

	return nil
}

// cleanManifestPath validates a manifest-declared path with the same rules
// as archive entry names.
func cleanManifestPath(s string) (string, error) {
	s = strings.TrimSpace(s)

	parts, err := splitEntryPath(s)
	if err != nil {
		return "", err
	}

	return path.Join(parts...), nil
}

// promote moves staged files into the destination, creating parent
// directories as needed. Directory creation is create-if-absent so sibling
// component installs can share parents safely. Any failure removes the
// files this archive already promoted.
func promote(files []string, componentLayout layout, staging, destDir string) error {
	written := make([]string, 0, len(files))

	rollback := func() {
		for _, dest := range written {
			_ = os.Remove(dest)
		}
	}

	for _, rel := range files {
		source := filepath.Join(staging, filepath.FromSlash(rel))
		dest := filepath.Join(destDir, filepath.FromSlash(componentLayout.rewrite(rel)))

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			rollback()

			return err
		}

		// Rename replaces an existing file in place, which is exactly the
		// force semantics; without force the conflict check already ran.
		if err := os.Rename(source, dest); err != nil {
			rollback()

			return fmt.Errorf("promote %s: %w", rel, err)
		}

		written = append(written, dest)
	}

	return nil
}
