package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"fmrivae/pkg/config"
	"fmrivae/pkg/pipeline"
)

const defaultConfigPath = "fmrivae.yaml"

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.SourceKey {
				source := attr.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attr
		},
	}))
}

// loadConfig reads the config file named by --config and applies any flags
// the user set explicitly on top of it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("batch-size") {
		cfg.Data.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("seed") {
		cfg.Model.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("zdim") {
		cfg.Model.ZDim, _ = flags.GetInt("zdim")
	}
	if flags.Changed("data-path") {
		cfg.Data.Path, _ = flags.GetString("data-path")
	}
	if flags.Changed("split") {
		cfg.Data.Split, _ = flags.GetString("split")
	}
	if flags.Changed("mask-path") {
		cfg.Data.MaskPath, _ = flags.GetString("mask-path")
	}
	if flags.Changed("z-path") {
		cfg.Output.LatentDir, _ = flags.GetString("z-path")
	}
	if flags.Changed("resume") {
		cfg.Model.Checkpoint, _ = flags.GetString("resume")
	}
	if flags.Changed("img-path") {
		cfg.Output.ReconDir, _ = flags.GetString("img-path")
	}
	if flags.Changed("preview-dir") {
		cfg.Output.PreviewDir, _ = flags.GetString("preview-dir")
	}
	if flags.Changed("preview-axis") {
		cfg.Output.PreviewAxis, _ = flags.GetString("preview-axis")
	}
	if flags.Changed("mode") {
		mode, _ := flags.GetString("mode")
		cfg.Mode = config.Mode(mode)
	}
	if flags.Changed("beta") {
		cfg.Loss.Beta, _ = flags.GetFloat64("beta")
	}
	if flags.Changed("sample") {
		cfg.Loss.Sample, _ = flags.GetBool("sample")
	}
	if flags.Changed("prefetch") {
		cfg.Data.Prefetch, _ = flags.GetInt("prefetch")
	}
	if flags.Changed("debug") {
		cfg.Output.Verbose, _ = flags.GetBool("debug")
	}
	return cfg, nil
}

func newPipeline(cmd *cobra.Command) (*pipeline.Pipeline, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Output.Verbose)
	logger.Debug("configuration", "mode", cfg.Mode, "zdim", cfg.Model.ZDim, "seed", cfg.Model.Seed,
		"batchSize", cfg.Data.BatchSize, "data", cfg.Data.Path, "latentDir", cfg.Output.LatentDir,
		"reconDir", cfg.Output.ReconDir, "checkpoint", cfg.Model.Checkpoint)

	p, err := pipeline.New(cfg, pipeline.WithLogger(logger))
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return nil, nil, err
	}
	return p, logger, nil
}

func runHandler(cmd *cobra.Command, args []string) error {
	p, logger, err := newPipeline(cmd)
	if err != nil {
		return err
	}

	sum, err := p.Run(cmd.Context())
	if err != nil {
		logger.Error("run failed", "error", err)
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Encoded samples: %d\n", sum.Samples)
	fmt.Fprintf(out, "Latent files written: %d\n", sum.Latents)
	fmt.Fprintf(out, "Reconstruction files written: %d\n", sum.Reconstructions)
	if sum.Quality.Voxels > 0 {
		printQuality(out, sum.Quality.RMSE, sum.Quality.SSIM, sum.Quality.Correlation, sum.Quality.EntropyDiff)
	}
	fmt.Fprintf(out, "Total processing time: %.2f seconds\n", sum.Elapsed.Seconds())
	return nil
}

func evalHandler(cmd *cobra.Command, args []string) error {
	p, logger, err := newPipeline(cmd)
	if err != nil {
		return err
	}

	ev, err := p.Evaluate(cmd.Context())
	if err != nil {
		logger.Error("evaluation failed", "error", err)
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Evaluated %d samples in %d batches\n", ev.Samples, ev.Batches)
	fmt.Fprintf(out, "Loss: %.6f\n", ev.Loss.Total)
	fmt.Fprintf(out, "MSE left: %.6f\n", ev.Loss.MSEL)
	fmt.Fprintf(out, "MSE right: %.6f\n", ev.Loss.MSER)
	fmt.Fprintf(out, "KL divergence: %.6f (weight %.3g)\n", ev.Loss.KLD, ev.Loss.BetaScaled)
	printQuality(out, ev.Quality.RMSE, ev.Quality.SSIM, ev.Quality.Correlation, ev.Quality.EntropyDiff)
	return nil
}

func printQuality(out io.Writer, rmse, ssim, corr, entropyDiff float64) {
	fmt.Fprintf(out, "\nReconstruction quality:\n")
	fmt.Fprintf(out, "Root Mean Square Error (RMSE): %.6f\n", rmse)
	fmt.Fprintf(out, "Structural Similarity Index (SSIM): %.3f\n", ssim)
	fmt.Fprintf(out, "Correlation: %.3f\n", corr)
	fmt.Fprintf(out, "Entropy Difference: %.3f\n", entropyDiff)
}

func initConfigHandler(cmd *cobra.Command, args []string) error {
	path := defaultConfigPath
	if len(args) > 0 {
		path = args[0]
	}
	if err := config.CreateDefaultConfigFile(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
	return nil
}

func addPipelineFlags(cmd *cobra.Command) {
	def := config.DefaultConfig()
	flags := cmd.Flags()
	flags.String("config", defaultConfigPath, "Path to the YAML configuration file")
	flags.Int("batch-size", def.Data.BatchSize, "How many samples per saved file (0 for the whole dataset)")
	flags.Uint64("seed", def.Model.Seed, "Random seed")
	flags.Int("zdim", def.Model.ZDim, "Dimension of latent variables")
	flags.String("data-path", def.Data.Path, "Path to the paired-volume dataset")
	flags.String("split", def.Data.Split, "Dataset split when --data-path is a prefix: train or val (default: the test container)")
	flags.String("mask-path", def.Data.MaskPath, "Path to a container with LeftMask and RightMask")
	flags.String("z-path", def.Output.LatentDir, "Directory for latent files")
	flags.String("resume", def.Model.Checkpoint, "The VAE checkpoint")
	flags.String("img-path", def.Output.ReconDir, "Directory for reconstructed volumes")
	flags.String("preview-dir", def.Output.PreviewDir, "Directory for PNG previews of reconstructions")
	flags.String("preview-axis", def.Output.PreviewAxis, "Write every slice along x, y or z instead of the middle slice")
	flags.String("mode", string(def.Mode), "Choose from encode, decode or both")
	flags.Float64("beta", def.Loss.Beta, "KL divergence weight before size scaling")
	flags.Bool("sample", def.Loss.Sample, "Evaluate a seeded reparameterized latent draw instead of the mean")
	flags.Int("prefetch", def.Data.Prefetch, "Batches to read ahead of the model")
	flags.Bool("debug", false, "Enable debug logging")
}

// NewCLI builds the fmrivae command tree
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fmrivae",
		Short: "Encode and reconstruct paired hemisphere fMRI volumes with a VAE",
		Args:  cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
		},
		RunE: runHandler,
	}
	addPipelineFlags(rootCmd)

	evalCmd := &cobra.Command{
		Use:   "eval",
		Short: "Report the VAE loss and reconstruction quality over a dataset",
		Args:  cobra.NoArgs,
		RunE:  evalHandler,
	}
	addPipelineFlags(evalCmd)

	initConfigCmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a configuration file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE:  initConfigHandler,
	}

	rootCmd.AddCommand(evalCmd, initConfigCmd)
	return rootCmd
}
