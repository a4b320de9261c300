package cli

import (
	"context"
	"os/signal"
	"syscall"

	"log/slog"

	"orthorect/internal/config"
	"orthorect/internal/pipeline"
	"orthorect/internal/storage"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	root := NewRoot(pipe, cfg, log, store)

	rootCmd := &cobra.Command{
		Use:   "orthorect",
		Short: "Orthorect rectifies aerial survey imagery against a DEM",
		Long: `Orthorect projects aerial frame imagery onto map coordinates using camera
exterior orientation and a digital elevation model, producing georeferenced
orthophotos with world files and validity masks.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newRectifyCmd(root))
	rootCmd.AddCommand(newScanCmd(root))
	rootCmd.AddCommand(newExifCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newRectifyCmd(root *Root) *cobra.Command {
	var (
		dem        string
		posOri     string
		output     string
		resolution float64
		interp     string
		dtype      string
		crs        string
		perBand    bool
		noMask     bool
		overwrite  bool
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "rectify <image_or_directory>",
		Short: "Orthorectify source images against an elevation model",
		Long: `Rectify one image or every image under a directory. Camera stations come
from a position/orientation file when given, otherwise from EXIF and XMP
tags in each image. Outputs are written next to their sources unless an
output directory is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			if output == "" {
				output = root.cfg.Paths.DefaultOutput
			}

			options := map[string]any{
				"dem":    dem,
				"source": "cli",
			}
			if posOri != "" {
				options["posOri"] = posOri
			}
			if resolution > 0 {
				options["resolution"] = resolution
			}
			if interp != "" {
				options["interp"] = interp
			}
			if dtype != "" {
				options["dtype"] = dtype
			}
			if crs != "" {
				options["crs"] = crs
			}
			if perBand {
				options["perBand"] = true
			}
			if noMask {
				options["noMask"] = true
			}
			if overwrite {
				options["overwrite"] = true
			}

			if watch {
				ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return root.watchAndRectify(ctx, []string{input}, output, options)
			}

			job := pipeline.Job{
				ID:        newID("rectify"),
				Type:      pipeline.JobRectify,
				InputPath: input,
				Output:    output,
				Options:   options,
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().StringVar(&dem, "dem", "", "elevation model path (.asc)")
	cmd.Flags().StringVar(&posOri, "pos-ori", "", "position/orientation file (name easting northing altitude omega phi kappa)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default: next to each source)")
	cmd.Flags().Float64Var(&resolution, "resolution", 0, "output pixel size in CRS units")
	cmd.Flags().StringVar(&interp, "interp", "", "resampling kernel (nearest|average|bilinear|cubic|lanczos)")
	cmd.Flags().StringVar(&dtype, "dtype", "", "output data type (uint8|uint16), source type if empty")
	cmd.Flags().StringVar(&crs, "crs", "", "output CRS label, inherited from the DEM if empty")
	cmd.Flags().BoolVar(&perBand, "per-band", false, "remap one band at a time to bound memory")
	cmd.Flags().BoolVar(&noMask, "no-mask", false, "skip the validity mask sidecar")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "rectify even when the output already exists")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and rectify new images as they appear")
	cmd.MarkFlagRequired("dem")

	return cmd
}

func newScanCmd(root *Root) *cobra.Command {
	var (
		posOri string
		output string
	)

	cmd := &cobra.Command{
		Use:   "scan <directory>",
		Short: "Inventory a survey directory",
		Long:  "Count source images, existing rectified outputs and pose coverage under a directory.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options := map[string]any{"source": "cli"}
			if posOri != "" {
				options["posOri"] = posOri
			}
			job := pipeline.Job{
				ID:        newID("scan"),
				Type:      pipeline.JobScan,
				InputPath: args[0],
				Output:    output,
				Options:   options,
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().StringVar(&posOri, "pos-ori", "", "position/orientation file to check coverage against")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory to check for existing rectifications")

	return cmd
}

func newExifCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exif <image_or_directory>",
		Short: "Extract and store camera metadata",
		Long:  "Read EXIF and XMP tags from each image, derive projected camera stations where possible and persist them.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        newID("exif"),
				Type:      pipeline.JobExif,
				InputPath: args[0],
				Options:   map[string]any{"source": "cli"},
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr      string
		watchDirs []string
		dem       string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start an HTTP server exposing job submission, job history and live result
streams. With --watch, new images under the watched directories are
rectified automatically; --dem is required in that case.

Examples:
  orthorect serve --addr :8080
  orthorect serve --addr :8080 --watch /data/flight1 --dem /data/dem.asc -o /data/ortho`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var watchOptions map[string]any
			if len(watchDirs) > 0 {
				watchOptions = map[string]any{"dem": dem, "source": "watch"}
			}

			root.log.Info("starting server", "addr", addr, "watch", watchDirs)
			return root.serveFn(ctx, addr, watchDirs, watchOptions, output, root)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "server address (host:port)")
	cmd.Flags().StringSliceVar(&watchDirs, "watch", nil, "directories to monitor for new imagery")
	cmd.Flags().StringVar(&dem, "dem", "", "elevation model for watched rectifications")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory for watched rectifications")

	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("orthorect v1.0.0")
		},
	}
}
