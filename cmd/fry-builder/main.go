package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fry-foundation/fry-iot-builder/internal/artifact"
	"github.com/fry-foundation/fry-iot-builder/internal/chroot"
	"github.com/fry-foundation/fry-iot-builder/internal/config"
	"github.com/fry-foundation/fry-iot-builder/internal/diskimage"
	"github.com/fry-foundation/fry-iot-builder/internal/logging"
	"github.com/fry-foundation/fry-iot-builder/internal/rootfs"
	"github.com/fry-foundation/fry-iot-builder/internal/validate"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if interrupted(ctx, err) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// interrupted reports whether a command failure was caused by the operator's
// signal. A cancelled external tool surfaces as its own exit error rather
// than context.Canceled, so the signal context is consulted as well.
func interrupted(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || ctx.Err() != nil
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	logLevel := defaultLogLevel
	projectRoot := "."

	root := &cobra.Command{
		Use:           "fry-builder",
		Short:         "Build bootable Fry IoT device images from declarative profiles",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&projectRoot, "root", ".", "Project root containing base-config.toml and profiles/")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		return nil
	}

	paths := func() config.Paths { return config.NewPaths(projectRoot) }

	root.AddCommand(
		newConfigureCommand(logger, paths),
		newRootfsCommand(logger, paths),
		newBuildCommand(logger, paths),
		newCompressCommand(logger, paths),
		newValidateCommand(logger, paths),
	)
	return root
}

// resolveProfile loads the configuration documents for the profile named in
// the PROFILE environment variable. A missing PROFILE lists what is available
// so the operator does not have to go digging through profiles/.
func resolveProfile(paths config.Paths) (*config.BuildConfig, error) {
	name := strings.TrimSpace(os.Getenv("PROFILE"))
	if name == "" {
		profiles, err := paths.ListProfiles()
		if err != nil {
			return nil, err
		}
		if len(profiles) == 0 {
			return nil, fmt.Errorf("PROFILE environment variable not set and no profiles found under %s", paths.ProfilesDir())
		}
		return nil, fmt.Errorf("PROFILE environment variable not set; available profiles: %s", strings.Join(profiles, ", "))
	}

	base, err := config.LoadBase(paths)
	if err != nil {
		return nil, err
	}
	profile, err := config.LoadProfile(paths, name)
	if err != nil {
		return nil, err
	}
	return config.Resolve(base, profile, name)
}

func newConfigureCommand(logger *slog.Logger, paths func() config.Paths) *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Resolve the profile and stage build configuration artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Banner(cmd.OutOrStdout(), "Fry IoT Configuration")

			p := paths()
			cfg, err := resolveProfile(p)
			if err != nil {
				return err
			}
			if err := p.EnsureDirectories(); err != nil {
				return err
			}

			cmdLogger := logger.With("command", "configure", "profile", cfg.Profile)
			stager := &rootfs.Stager{Logger: cmdLogger, Paths: p}
			if err := stager.Stage(cfg); err != nil {
				cmdLogger.Error("configuration failed", "error", err)
				return err
			}

			cmdLogger.Info("configuration complete",
				"device", cfg.Codename, "architecture", cfg.Architecture, "image_size", cfg.ImageSize)
			return nil
		},
	}
}

func newRootfsCommand(logger *slog.Logger, paths func() config.Paths) *cobra.Command {
	return &cobra.Command{
		Use:   "rootfs",
		Short: "Bootstrap the base system into the working rootfs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Banner(cmd.OutOrStdout(), "Fry IoT Rootfs Builder")

			p := paths()
			cfg, err := resolveProfile(p)
			if err != nil {
				return err
			}
			if err := p.EnsureDirectories(); err != nil {
				return err
			}

			cmdLogger := logger.With("command", "rootfs", "profile", cfg.Profile)
			builder := &rootfs.Builder{Logger: cmdLogger, Paths: p}
			tree, err := builder.Build(cmd.Context(), cfg)
			if err != nil {
				cmdLogger.Error("rootfs build failed", "error", err)
				return err
			}

			cmdLogger.Info("rootfs complete", "path", tree, "packages", len(cfg.Packages))
			return nil
		},
	}
}

func newBuildCommand(logger *slog.Logger, paths func() config.Paths) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Run the full pipeline: rootfs, configuration, disk image",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Banner(cmd.OutOrStdout(), "Fry IoT Image Builder")

			p := paths()
			cfg, err := resolveProfile(p)
			if err != nil {
				return err
			}
			if err := p.EnsureDirectories(); err != nil {
				return err
			}

			ctx := cmd.Context()
			cmdLogger := logger.With("command", "build", "profile", cfg.Profile, "build_id", uuid.NewString())
			executor := &chroot.Executor{Logger: cmdLogger}

			builder := &rootfs.Builder{Logger: cmdLogger, Paths: p}
			tree, err := builder.Build(ctx, cfg)
			if err != nil {
				cmdLogger.Error("rootfs build failed", "error", err)
				return err
			}

			configurator := &rootfs.Configurator{Logger: cmdLogger, Chroot: executor}
			if err := configurator.Apply(ctx, cfg, p, tree); err != nil {
				cmdLogger.Error("rootfs configuration failed", "error", err)
				return err
			}

			imageBuilder := &diskimage.Builder{Logger: cmdLogger, Chroot: executor, Paths: p}
			result, err := imageBuilder.Build(ctx, cfg, tree)
			if err != nil {
				cmdLogger.Error("disk image build failed", "error", err)
				return err
			}

			cmdLogger.Info("build complete", "image", result.ImagePath)
			fmt.Fprintln(cmd.OutOrStdout(), result.ImagePath)
			return nil
		},
	}
}

func newCompressCommand(logger *slog.Logger, paths func() config.Paths) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "compress",
		Short: "Compress built images and write checksum and build manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Banner(cmd.OutOrStdout(), "Fry IoT Image Compression")

			p := paths()
			base, err := config.LoadBase(p)
			if err != nil {
				return err
			}
			if format == "" {
				format = base.Build.Compression
				if format == "" {
					format = config.DefaultCompression
				}
			}

			cmdLogger := logger.With("command", "compress", "format", format)
			compressor := &artifact.Compressor{Logger: cmdLogger, Paths: p}

			artifacts, err := compressor.CompressAll(cmd.Context(), format)
			if err != nil {
				cmdLogger.Error("compression failed", "error", err)
				return err
			}
			if len(artifacts) == 0 {
				cmdLogger.Warn("no images found to compress", "output_dir", p.OutputDir())
				return nil
			}

			checksums, err := artifact.WriteChecksums(p.OutputDir(), artifacts)
			if err != nil {
				cmdLogger.Error("checksum generation failed", "error", err)
				return err
			}
			cmdLogger.Info("checksums written", "path", checksums, "artifacts", len(artifacts))

			manifest, err := buildManifest(p, base, artifacts)
			if err != nil {
				cmdLogger.Error("manifest generation failed", "error", err)
				return err
			}
			path, err := artifact.WriteManifest(p.OutputDir(), manifest)
			if err != nil {
				return err
			}
			cmdLogger.Info("manifest written", "path", path, "build_id", manifest.BuildID)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Compression format (xz, gz, zstd); defaults to base-config.toml")
	return cmd
}

// buildManifest assembles manifest metadata from the base configuration and
// the device descriptor staged by configure. It deliberately avoids requiring
// PROFILE so compression can run long after the resolving shell exited.
func buildManifest(p config.Paths, base *config.Base, artifacts []string) (*artifact.Manifest, error) {
	device, err := rootfs.LoadDeviceMetadata(p)
	if err != nil {
		return nil, fmt.Errorf("load device metadata (run configure first): %w", err)
	}

	version := base.General.OSVersion
	if version == "" {
		version = "1.0.0"
	}
	suite := base.Debian.Suite
	if suite == "" {
		suite = config.DefaultSuite
	}
	return artifact.BuildManifest(artifact.BuildInfo{
		Codename:     device.Name,
		Version:      version,
		Architecture: device.Architecture,
		Suite:        suite,
	}, artifacts, nil)
}

func newValidateCommand(logger *slog.Logger, paths func() config.Paths) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Run post-build validation checks against the output directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Banner(cmd.OutOrStdout(), "Fry IoT Image Validation")

			cmdLogger := logger.With("command", "validate")
			validator := &validate.Validator{Logger: cmdLogger, Paths: paths()}

			results := validator.Validate()
			passed := 0
			for _, result := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", result)
				if result.Passed {
					passed++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nResults: %d passed, %d failed\n", passed, len(results)-passed)

			if !validate.Passed(results) {
				return fmt.Errorf("%d of %d validation checks failed", len(results)-passed, len(results))
			}
			cmdLogger.Info("all validation checks passed", "checks", len(results))
			return nil
		},
	}
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}
