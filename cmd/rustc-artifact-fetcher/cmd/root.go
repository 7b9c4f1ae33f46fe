package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/rustc-artifact-fetcher/internal/logger"
	"github.com/oshokin/rustc-artifact-fetcher/internal/service/orchestrator"
	"github.com/oshokin/rustc-artifact-fetcher/internal/version"
)

var (
	// options collects every flag value for the install pipeline.
	options orchestrator.Options

	// logLevel is the minimum severity written to stderr.
	logLevel string

	// rootCmd represents the base command for installing rustc CI toolchains.
	rootCmd = &cobra.Command{
		Use:   "rustc-artifact-fetcher [commits...]",
		Short: "Install compiler artifacts from rustc CI builds",
		Long: `Fetches rustc, rust-std and other components built by rust-lang CI for
the given commit hashes and unpacks them as rustup toolchains.

Each commit becomes a toolchain directory named after the full hash,
usable as "cargo +<hash> build". Without arguments the latest master
HEAD commit is resolved through the GitHub API and installed.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			options.Commits = args

			return orchestrator.Run(ctx, &options)
		},
	}
)

// Execute runs the rustc-artifact-fetcher CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.Flags()

	flags.StringVar(&options.ConfigPath, "config", "", "path to configuration file")
	flags.StringVarP(&options.Name, "name", "n", "",
		"toolchain directory name, a single commit only (default the commit hash)")
	flags.StringVarP(&options.Server, "server", "s", "",
		"artifact store base URL")
	flags.StringVarP(&options.Host, "host", "i", "",
		"host platform triple (default autodetected)")
	flags.StringSliceVarP(&options.Targets, "targets", "t", nil,
		"additional targets to install the standard library for")
	flags.StringSliceVarP(&options.Components, "components", "c", nil,
		"additional components to install, e.g. rustc-dev, rust-src, cargo")
	flags.StringVar(&options.Channel, "channel", "",
		"release channel of the commits, skips channel detection (nightly|beta|stable|<version>)")
	flags.StringVarP(&options.Proxy, "proxy", "p", "",
		"HTTP proxy for all requests")
	flags.StringVar(&options.GithubToken, "github-token", "",
		"authorization token for the GitHub API")
	flags.BoolVarP(&options.Alt, "alt", "a", false,
		"download alternate builds (sanitizers, parallel rustc)")
	flags.BoolVar(&options.NoDefaults, "no-defaults", false,
		"do not install rustc and rust-std for the host implicitly")
	flags.BoolVar(&options.DryRun, "dry-run", false,
		"only print the archive URLs without downloading or installing")
	flags.BoolVarP(&options.Force, "force", "f", false,
		"replace an existing toolchain of the same name")
	flags.BoolVarP(&options.KeepGoing, "keep-going", "k", false,
		"continue installing the remaining toolchains when one fails")
	flags.IntVarP(&options.Jobs, "jobs", "j", 0,
		"number of components downloaded in parallel (default from configuration)")
	flags.StringVar(&logLevel, "log-level", "info",
		"minimum log level (debug|info|warn|error|fatal)")
}
