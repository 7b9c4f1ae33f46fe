package orchestrator

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/rustc-artifact-fetcher/internal/config"
	"github.com/oshokin/rustc-artifact-fetcher/internal/domain/toolchain"
	"github.com/oshokin/rustc-artifact-fetcher/internal/service/installer"
)

var (
	commitOne   = toolchain.Commit("1111111111111111111111111111111111111111")
	commitTwo   = toolchain.Commit("2222222222222222222222222222222222222222")
	commitThree = toolchain.Commit("3333333333333333333333333333333333333333")

	errResolveBoom = errors.New("metadata service is down")
	errFetchBoom   = errors.New("connection reset")
)

// fakeResolver resolves every commit to nightly, failing the configured ones.
type fakeResolver struct {
	mu       sync.Mutex
	failOn   map[toolchain.Commit]error
	resolved []toolchain.Commit
}

func (f *fakeResolver) Resolve(
	_ context.Context,
	commit toolchain.Commit,
	override toolchain.Channel,
) (toolchain.Commit, toolchain.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resolved = append(f.resolved, commit)

	if err, found := f.failOn[commit]; found {
		return commit, "", err
	}

	if override != "" {
		return commit, override, nil
	}

	return commit, toolchain.ChannelNightly, nil
}

// fakeFetcher returns a small in-memory stream per archive, failing the
// configured component names.
type fakeFetcher struct {
	mu      sync.Mutex
	failOn  map[string]error
	dryRun  bool
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, descriptor toolchain.ArchiveDescriptor) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetched = append(f.fetched, descriptor.URL)

	if err, found := f.failOn[descriptor.Spec.Name]; found {
		return nil, err
	}

	if f.dryRun {
		return nil, nil
	}

	return io.NopCloser(strings.NewReader(descriptor.Spec.Name)), nil
}

// fakeInstaller drops a marker file per component into the destination.
type fakeInstaller struct {
	mu        sync.Mutex
	installed []string
}

func (f *fakeInstaller) Install(
	_ context.Context,
	stream io.Reader,
	descriptor toolchain.ArchiveDescriptor,
	destDir string,
	_ bool,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := io.ReadAll(stream); err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	marker := filepath.Join(destDir, descriptor.Spec.Name)
	if err := os.WriteFile(marker, []byte("installed"), 0o644); err != nil {
		return err
	}

	f.installed = append(f.installed, descriptor.Spec.Name)

	return nil
}

// testConfig builds a run configuration rooted in a temp toolchains dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Server:        "https://artifacts.test",
		ToolchainsDir: t.TempDir(),
		Jobs:          2,
		RetryAttempts: 1,
	}
}

// baseRequest enables defaults for the canonical host.
func baseRequest(commits ...toolchain.Commit) Request {
	return Request{
		Commits:     commits,
		Variant:     toolchain.VariantNormal,
		Channel:     toolchain.ChannelNightly,
		Host:        "x86_64-unknown-linux-gnu",
		UseDefaults: true,
	}
}

// TestRunInstallsCommit drives one commit through the whole pipeline.
func TestRunInstallsCommit(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	fetch := &fakeFetcher{}
	install := &fakeInstaller{}

	o := New(cfg, &fakeResolver{}, fetch.Fetch, install.Install)

	results := o.Run(context.Background(), baseRequest(commitOne))
	require.Len(t, results, 1)
	require.False(t, results[0].Failed())
	require.Equal(t, commitOne.String(), results[0].Dest)

	// Both default components landed in the destination.
	destDir := filepath.Join(cfg.ToolchainsDir, commitOne.String())
	for _, component := range []string{toolchain.ComponentCompiler, toolchain.ComponentStandardLibrary} {
		_, err := os.Stat(filepath.Join(destDir, component))
		require.NoError(t, err, component)
	}
}

// TestRunKeepGoing attempts every commit and reports failures independently.
func TestRunKeepGoing(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	resolver := &fakeResolver{failOn: map[toolchain.Commit]error{commitTwo: errResolveBoom}}
	fetch := &fakeFetcher{}
	install := &fakeInstaller{}

	o := New(cfg, resolver, fetch.Fetch, install.Install)

	req := baseRequest(commitOne, commitTwo, commitThree)
	req.KeepGoing = true

	results := o.Run(context.Background(), req)
	require.Len(t, results, 3)

	require.False(t, results[0].Failed())
	require.True(t, results[1].Failed())
	require.Equal(t, toolchain.StageResolve, results[1].Stage)
	require.ErrorIs(t, results[1].Err, errResolveBoom)
	require.False(t, results[2].Failed())

	require.Equal(t, []toolchain.Commit{commitOne, commitTwo, commitThree}, resolver.resolved)
}

// TestRunStopsWithoutKeepGoing never attempts commits after the first failure.
func TestRunStopsWithoutKeepGoing(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	resolver := &fakeResolver{failOn: map[toolchain.Commit]error{commitTwo: errResolveBoom}}
	fetch := &fakeFetcher{}
	install := &fakeInstaller{}

	o := New(cfg, resolver, fetch.Fetch, install.Install)

	results := o.Run(context.Background(), baseRequest(commitOne, commitTwo, commitThree))
	require.Len(t, results, 2)
	require.True(t, results[1].Failed())

	require.Equal(t, []toolchain.Commit{commitOne, commitTwo}, resolver.resolved)
}

// TestRunAlreadyInstalled skips a clean prior install without fetching.
func TestRunAlreadyInstalled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.ToolchainsDir, commitOne.String()), 0o755))

	fetch := &fakeFetcher{}
	install := &fakeInstaller{}

	o := New(cfg, &fakeResolver{}, fetch.Fetch, install.Install)

	results := o.Run(context.Background(), baseRequest(commitOne))
	require.Len(t, results, 1)
	require.False(t, results[0].Failed())
	require.True(t, results[0].Skipped)
	require.Empty(t, fetch.fetched)
}

// TestRunForceReinstalls wipes the existing toolchain and installs fresh.
func TestRunForceReinstalls(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	destDir := filepath.Join(cfg.ToolchainsDir, commitOne.String())
	require.NoError(t, os.MkdirAll(destDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "stale"), []byte("old"), 0o644))

	fetch := &fakeFetcher{}
	install := &fakeInstaller{}

	o := New(cfg, &fakeResolver{}, fetch.Fetch, install.Install)

	req := baseRequest(commitOne)
	req.Force = true

	results := o.Run(context.Background(), req)
	require.Len(t, results, 1)
	require.False(t, results[0].Failed())

	_, err := os.Stat(filepath.Join(destDir, "stale"))
	require.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(destDir, toolchain.ComponentCompiler))
	require.NoError(t, err)
}

// TestRunDryRun touches neither the network-installed files nor the
// destination directory.
func TestRunDryRun(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	fetch := &fakeFetcher{dryRun: true}
	install := &fakeInstaller{}

	o := New(cfg, &fakeResolver{}, fetch.Fetch, install.Install)

	req := baseRequest(commitOne)
	req.DryRun = true

	results := o.Run(context.Background(), req)
	require.Len(t, results, 1)
	require.False(t, results[0].Failed())

	// Every would-be URL was produced, nothing was installed.
	require.Len(t, fetch.fetched, 2)
	require.Empty(t, install.installed)

	entries, err := os.ReadDir(cfg.ToolchainsDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestRunComponentFailure marks the commit failed at the fetch stage while
// keeping the components that installed successfully.
func TestRunComponentFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	fetch := &fakeFetcher{failOn: map[string]error{toolchain.ComponentStandardLibrary: errFetchBoom}}
	install := &fakeInstaller{}

	o := New(cfg, &fakeResolver{}, fetch.Fetch, install.Install)

	results := o.Run(context.Background(), baseRequest(commitOne))
	require.Len(t, results, 1)
	require.True(t, results[0].Failed())
	require.Equal(t, toolchain.StageFetch, results[0].Stage)
	require.ErrorIs(t, results[0].Err, errFetchBoom)
}

// TestRunCanceledContext fails the commit when the caller's context is
// already canceled instead of reporting an empty install as success.
func TestRunCanceledContext(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	fetch := &fakeFetcher{}
	install := &fakeInstaller{}

	o := New(cfg, &fakeResolver{}, fetch.Fetch, install.Install)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := o.Run(ctx, baseRequest(commitOne))
	require.Len(t, results, 1)
	require.True(t, results[0].Failed())
	require.Equal(t, toolchain.StageFetch, results[0].Stage)
	require.ErrorIs(t, results[0].Err, context.Canceled)
	require.Empty(t, install.installed)
}

// TestRunTruncatedDownload attributes a stream that dies mid-unpack to the
// fetch stage rather than the install stage.
func TestRunTruncatedDownload(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	fetch := &fakeFetcher{}

	install := func(_ context.Context, stream io.Reader, _ toolchain.ArchiveDescriptor, _ string, _ bool) error {
		if _, err := io.ReadAll(stream); err != nil {
			return err
		}

		return &installer.StreamError{Err: io.ErrUnexpectedEOF}
	}

	o := New(cfg, &fakeResolver{}, fetch.Fetch, install)

	results := o.Run(context.Background(), baseRequest(commitOne))
	require.Len(t, results, 1)
	require.True(t, results[0].Failed())
	require.Equal(t, toolchain.StageFetch, results[0].Stage)
	require.ErrorIs(t, results[0].Err, io.ErrUnexpectedEOF)
}

// TestRunZeroJobs still makes progress when the worker count was never
// validated.
func TestRunZeroJobs(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Jobs = 0

	fetch := &fakeFetcher{}
	install := &fakeInstaller{}

	o := New(cfg, &fakeResolver{}, fetch.Fetch, install.Install)

	results := o.Run(context.Background(), baseRequest(commitOne))
	require.Len(t, results, 1)
	require.False(t, results[0].Failed())
	require.Len(t, install.installed, 2)
}

// TestBuildRequest validates option combinations.
func TestBuildRequest(t *testing.T) {
	t.Parallel()

	// Name with multiple commits.
	_, err := buildRequest(&Options{
		Commits: []string{commitOne.String(), commitTwo.String()},
		Name:    "custom",
	})
	require.ErrorIs(t, err, errNameNeedsSingleCommit)

	// Invalid commit.
	_, err = buildRequest(&Options{Commits: []string{"abc"}, Host: "x86_64-unknown-linux-gnu"})
	require.ErrorIs(t, err, toolchain.ErrInvalidCommit)

	// Invalid channel.
	_, err = buildRequest(&Options{Channel: "weekly", Host: "x86_64-unknown-linux-gnu"})
	require.ErrorIs(t, err, toolchain.ErrInvalidChannel)

	// Full request.
	req, err := buildRequest(&Options{
		Commits:    []string{commitOne.String()},
		Host:       "x86_64-unknown-linux-gnu",
		Channel:    "nightly",
		Alt:        true,
		NoDefaults: true,
		Targets:    []string{"wasm32-unknown-unknown"},
	})
	require.NoError(t, err)
	require.Equal(t, toolchain.VariantAlt, req.Variant)
	require.False(t, req.UseDefaults)
	require.Equal(t, toolchain.ChannelNightly, req.Channel)
}

// TestReport folds failures into one error and keeps successes quiet.
func TestReport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ok := toolchain.InstallResult{Commit: commitOne, Dest: commitOne.String()}
	failed := toolchain.InstallResult{
		Commit: commitTwo,
		Stage:  toolchain.StageResolve,
		Err:    errResolveBoom,
	}

	require.NoError(t, report(ctx, []toolchain.InstallResult{ok}, false))

	err := report(ctx, []toolchain.InstallResult{ok, failed}, false)
	require.ErrorIs(t, err, errResolveBoom)

	err = report(ctx, []toolchain.InstallResult{ok, failed}, true)
	require.ErrorIs(t, err, errResolveBoom)
	require.ErrorIs(t, err, errSomeToolchainsFailed)
}
