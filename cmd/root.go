package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kiesman99/zoomtile/internal/config"
	"github.com/kiesman99/zoomtile/internal/logging"
	"github.com/kiesman99/zoomtile/internal/paint"
	"github.com/kiesman99/zoomtile/internal/source"
	"github.com/kiesman99/zoomtile/internal/viewer"
	"github.com/kiesman99/zoomtile/pkg/geom"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zoomtile IMAGE",
	Short: "Pan, zoom and rotate very large images with tiled, subsampled decoding",
	Long: `zoomtile renders a view of a very large image the way an interactive viewer
would: it places the image in a container, applies scripted gestures, decodes
only the tiles the viewport needs at a matching resolution, and writes the
composited frame as PNG or JPEG.

IMAGE is a local file (PNG, JPEG, GIF, TIFF, BMP, WebP), an http(s) URL, or
pattern:WIDTHxHEIGHT for a procedural test image of any size.

Gestures are applied in order, one per --gesture flag:
  pan:DX,DY  pinch:FACTOR[@X,Y]  rotate:DEGREES[@X,Y]  double-tap[@X,Y]  release[:VX,VY]

Examples:
  # Fit a large TIFF into 1280x720
  zoomtile scan.tif --width 1280 --height 720 -o view.png

  # Zoom 4x into the centre of a 100k x 50k test pattern and show tile bounds
  zoomtile pattern:100000x50000 -g pinch:4 -g release --show-tile-bounds -o zoom.png

  # Double-tap, pan and rotate a downloaded image
  zoomtile https://example.com/map.jpg -g double-tap@200,150 -g pan:-300,0 -g rotate:30 -o map.png

  # Start HTTP server
  zoomtile serve pattern:40000x30000 --port 8080`,
	Args: cobra.MaximumNArgs(1),
	// If no subcommand is specified and we have args, run the render command
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runRender(cmd, args[0])
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.zoomtile.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log tile and plan activity to stderr")
	rootCmd.PersistentFlags().String("user-agent", source.DefaultUserAgent, "HTTP User-Agent header for image URLs")
	rootCmd.PersistentFlags().Duration("latency", 0, "simulated extra decode latency per tile")
	addViewerFlags(rootCmd.PersistentFlags())

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("user-agent", rootCmd.PersistentFlags().Lookup("user-agent"))
	viper.BindPFlag("latency", rootCmd.PersistentFlags().Lookup("latency"))

	// Render options
	rootCmd.Flags().StringP("output", "o", "", "output file, format from extension (default: PNG to stdout)")
	rootCmd.Flags().Int("width", 800, "container width in pixels")
	rootCmd.Flags().Int("height", 600, "container height in pixels")
	rootCmd.Flags().StringArrayP("gesture", "g", nil, "gesture to apply, repeatable")
	rootCmd.Flags().Duration("settle", 10*time.Second, "maximum time to wait for animations and tiles")

	viper.BindPFlag("output", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("width", rootCmd.Flags().Lookup("width"))
	viper.BindPFlag("height", rootCmd.Flags().Lookup("height"))
	viper.BindPFlag("gesture", rootCmd.Flags().Lookup("gesture"))
	viper.BindPFlag("settle", rootCmd.Flags().Lookup("settle"))
}

// addViewerFlags registers one flag per config.Options key and binds it.
// Flag names use dashes; config keys use underscores.
func addViewerFlags(fs *pflag.FlagSet) {
	d := config.Defaults()
	fs.Float64("min-scale", d.MinScale, "minimum scale (0: base scale)")
	fs.Float64("max-scale", d.MaxScale, "maximum scale (0: 4x the larger of base and native scale)")
	fs.String("content-scale", d.ContentScale, "initial placement (fit|fill|none|crop)")
	fs.String("alignment", d.Alignment, "placement when the content is smaller than the container (e.g. center, top-start)")
	fs.Float64("double-tap-scale", d.DoubleTapScale, "double-tap zoom scale (0: automatic)")
	fs.Float64("overshoot", d.Overshoot, "factor the scale may exceed its limits during a gesture")
	fs.Float64("rubber-band", d.RubberBand, "resistance to panning past the edges (0..1)")
	fs.Duration("animation-duration", d.AnimationDuration, "duration of eased animations")
	fs.Float64("fling-friction", d.FlingFriction, "fling velocity decay per second")
	fs.Float64("fling-min-velocity", d.FlingMinVelocity, "minimum release speed in px/s that starts a fling")
	fs.Int("tile-size", d.TileSize, "decoded tile edge in pixels")
	fs.String("cache-budget", d.CacheBudget.String(), "tile cache budget (e.g. 64MiB)")
	fs.Int("prefetch-margin", d.PrefetchMargin, "tile rings prefetched around the viewport")
	fs.Int("workers", d.Workers, "concurrent tile decoders")
	fs.Int("queue-size", d.QueueSize, "maximum queued decode jobs")
	fs.Duration("decode-timeout", d.DecodeTimeout, "per-tile decode timeout")
	fs.Int("max-attempts", d.MaxAttempts, "decode attempts before a tile is given up")
	fs.Duration("backoff-base", d.BackoffBase, "retry backoff after the first failure")
	fs.Duration("backoff-max", d.BackoffMax, "retry backoff cap")
	fs.Bool("show-tile-bounds", d.ShowTileBounds, "outline and label every drawn tile")

	keys := configKeys()
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, ok := keys[key]; ok {
			viper.BindPFlag(key, f)
		}
	})
}

// configKeys returns the keys recognised by config.Options.
func configKeys() map[string]struct{} {
	v := viper.New()
	config.SetDefaults(v)
	keys := make(map[string]struct{})
	for _, k := range v.AllKeys() {
		keys[k] = struct{}{}
	}
	return keys
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".zoomtile" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".zoomtile")
	}

	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func initLogging() {
	if !viper.GetBool("verbose") {
		return
	}
	logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

// openViewer resolves the image, loads the options and builds a viewer.
func openViewer(ctx context.Context, ref string, container geom.Size) (*viewer.Viewer, error) {
	opts, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	fetcher := source.NewFetcher(nil)
	fetcher.UserAgent = viper.GetString("user-agent")
	src, err := source.Resolve(ctx, ref, fetcher)
	if err != nil {
		return nil, err
	}
	if latency := viper.GetDuration("latency"); latency > 0 {
		src = &source.Delayed{ImageSource: src, Latency: latency}
	}
	return viewer.New(ctx, src, opts, container)
}

func runRender(cmd *cobra.Command, ref string) error {
	width, height := viper.GetInt("width"), viper.GetInt("height")
	if width <= 0 || height <= 0 {
		return fmt.Errorf("width/height must be positive: %d %d", width, height)
	}
	output := viper.GetString("output")
	if output == "" {
		if stat, _ := os.Stdout.Stat(); stat != nil && stat.Mode()&os.ModeCharDevice != 0 {
			return fmt.Errorf("didn't specify output file and standard output is a terminal")
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	container := geom.Sz(float64(width), float64(height))
	v, err := openViewer(ctx, ref, container)
	if err != nil {
		return err
	}
	defer v.Close()

	stderr := cmd.ErrOrStderr()
	info := v.Info()
	fmt.Fprintf(stderr, "==Source: %s %dx%d\n", ref, info.Width, info.Height)
	fmt.Fprintf(stderr, "==Tiers: %d (tile size %d)\n", v.Grid().MaxTier+1, v.Grid().TileSize)

	// Gestures run on a simulated 60Hz clock so release velocities are
	// estimated from realistic sample spacing.
	now := time.Now()
	focal := r2.Vec{X: container.Width / 2, Y: container.Height / 2}
	gestures, _ := cmd.Flags().GetStringArray("gesture")
	if len(gestures) == 0 {
		gestures = viper.GetStringSlice("gesture")
	}
	for _, g := range gestures {
		ev, err := parseGesture(g, focal)
		if err != nil {
			return err
		}
		now = now.Add(16 * time.Millisecond)
		ev.Time = now
		t := v.HandleEvent(ev)
		fmt.Fprintf(stderr, "==Gesture %s: %s\n", g, t)
	}

	frame, err := settle(ctx, v, now, viper.GetDuration("settle"))
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "==Frame: %s\n", frame.Info())
	if frame.Pending > 0 || frame.Unavailable > 0 || frame.OverBudget > 0 {
		fmt.Fprintf(stderr, "==Incomplete: %d pending, %d unavailable, %d over budget\n",
			frame.Pending, frame.Unavailable, frame.OverBudget)
	}

	if err := paint.WriteImage(output, v.Paint(frame)); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}

// settle advances v until animations end and every planned tile is loaded,
// or until timeout. The clock continues from now at real-time pace.
func settle(ctx context.Context, v *viewer.Viewer, now time.Time, timeout time.Duration) (viewer.Frame, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(viewer.DefaultFrameInterval)
	defer ticker.Stop()

	last := time.Now()
	frame := v.Frame(now)
	for frame.Animating || frame.Pending > 0 {
		select {
		case <-ctx.Done():
			return frame, ctx.Err()
		case <-deadline.C:
			logging.Logger().Warn("render: gave up waiting", "pending", frame.Pending, "animating", frame.Animating)
			return frame, nil
		case c := <-v.Completions():
			v.ApplyCompletion(c, now)
		case <-ticker.C:
		}
		t := time.Now()
		now = now.Add(t.Sub(last))
		last = t
		frame = v.Frame(now)
	}
	return frame, nil
}
