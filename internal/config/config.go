// Package config loads viewer options from flags, environment and config
// files through viper.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/kiesman99/zoomtile/internal/planner"
	"github.com/kiesman99/zoomtile/internal/tilecache"
	"github.com/kiesman99/zoomtile/internal/transform"
	"github.com/kiesman99/zoomtile/pkg/tile"
)

// EnvPrefix prefixes environment variables, e.g. ZOOMTILE_CACHE_BUDGET.
const EnvPrefix = "ZOOMTILE"

// Options holds every recognised setting.
type Options struct {
	// Transform engine
	MinScale          float64       `mapstructure:"min_scale"`
	MaxScale          float64       `mapstructure:"max_scale"`
	ContentScale      string        `mapstructure:"content_scale"`
	Alignment         string        `mapstructure:"alignment"`
	DoubleTapScale    float64       `mapstructure:"double_tap_scale"`
	Overshoot         float64       `mapstructure:"overshoot"`
	RubberBand        float64       `mapstructure:"rubber_band"`
	AnimationDuration time.Duration `mapstructure:"animation_duration"`
	FlingFriction     float64       `mapstructure:"fling_friction"`
	FlingMinVelocity  float64       `mapstructure:"fling_min_velocity"`

	// Tiles
	TileSize       int      `mapstructure:"tile_size"`
	CacheBudget    ByteSize `mapstructure:"cache_budget"`
	PrefetchMargin int      `mapstructure:"prefetch_margin"`

	// Loader
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	DecodeTimeout time.Duration `mapstructure:"decode_timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`

	// Debug
	ShowTileBounds bool `mapstructure:"show_tile_bounds"`
}

// Defaults returns the built-in settings.
func Defaults() Options {
	eng := transform.DefaultOptions()
	ld := tilecache.DefaultOptions()
	return Options{
		ContentScale:      "fit",
		Alignment:         "center",
		Overshoot:         eng.Overshoot,
		RubberBand:        eng.RubberBand,
		AnimationDuration: eng.AnimationDuration,
		FlingFriction:     eng.FlingFriction,
		FlingMinVelocity:  eng.FlingMinVelocity,
		TileSize:          tile.DefaultTileSize,
		CacheBudget:       ByteSize(ld.Budget),
		PrefetchMargin:    planner.DefaultPrefetchMargin,
		Workers:           runtime.NumCPU(),
		QueueSize:         ld.QueueSize,
		DecodeTimeout:     ld.DecodeTimeout,
		MaxAttempts:       ld.MaxAttempts,
		BackoffBase:       ld.BackoffBase,
		BackoffMax:        ld.BackoffMax,
	}
}

// SetDefaults registers every key with v so environment variables and
// config files are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	var m map[string]any
	if err := mapstructure.Decode(Defaults(), &m); err != nil {
		panic(fmt.Sprintf("config: encode defaults: %v", err))
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.SetDefault(k, m[k])
	}
}

// Load reads the options from v and validates them.
func Load(v *viper.Viper) (Options, error) {
	opts := Defaults()
	hook := mapstructure.ComposeDecodeHookFunc(
		byteSizeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&opts, viper.DecodeHook(hook)); err != nil {
		return Options{}, fmt.Errorf("decode config: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate reports every invalid setting.
func (o Options) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	if _, err := transform.ParseContentScale(o.ContentScale); err != nil {
		errs = append(errs, err)
	}
	if _, err := transform.ParseAlignment(o.Alignment); err != nil {
		errs = append(errs, err)
	}
	check(o.MinScale >= 0, "min_scale must not be negative, got %g", o.MinScale)
	check(o.MaxScale >= 0, "max_scale must not be negative, got %g", o.MaxScale)
	check(o.MinScale == 0 || o.MaxScale == 0 || o.MaxScale >= o.MinScale,
		"max_scale (%g) must be at least min_scale (%g)", o.MaxScale, o.MinScale)
	check(o.DoubleTapScale >= 0, "double_tap_scale must not be negative, got %g", o.DoubleTapScale)
	check(o.Overshoot >= 1, "overshoot must be at least 1, got %g", o.Overshoot)
	check(o.RubberBand >= 0 && o.RubberBand <= 1, "rubber_band must be within [0,1], got %g", o.RubberBand)
	check(o.AnimationDuration > 0, "animation_duration must be positive, got %v", o.AnimationDuration)
	check(o.FlingFriction > 0, "fling_friction must be positive, got %g", o.FlingFriction)
	check(o.FlingMinVelocity >= 0, "fling_min_velocity must not be negative, got %g", o.FlingMinVelocity)
	check(o.TileSize >= 16, "tile_size must be at least 16, got %d", o.TileSize)
	check(o.CacheBudget > 0, "cache_budget must be positive, got %d", o.CacheBudget)
	check(o.PrefetchMargin >= 0, "prefetch_margin must not be negative, got %d", o.PrefetchMargin)
	check(o.Workers >= 1, "workers must be at least 1, got %d", o.Workers)
	check(o.QueueSize >= 1, "queue_size must be at least 1, got %d", o.QueueSize)
	check(o.DecodeTimeout > 0, "decode_timeout must be positive, got %v", o.DecodeTimeout)
	check(o.MaxAttempts >= 1, "max_attempts must be at least 1, got %d", o.MaxAttempts)
	check(o.BackoffBase > 0, "backoff_base must be positive, got %v", o.BackoffBase)
	check(o.BackoffMax >= o.BackoffBase, "backoff_max (%v) must be at least backoff_base (%v)", o.BackoffMax, o.BackoffBase)
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Layout returns the parsed content-scale policy and alignment. Invalid
// names fall back to fit and center.
func (o Options) Layout() (transform.ContentScale, transform.Alignment) {
	policy, _ := transform.ParseContentScale(o.ContentScale)
	align, _ := transform.ParseAlignment(o.Alignment)
	return policy, align
}

// Engine returns the transform engine options.
func (o Options) Engine() transform.Options {
	return transform.Options{
		MinScale:          o.MinScale,
		MaxScale:          o.MaxScale,
		DoubleTapScale:    o.DoubleTapScale,
		Overshoot:         o.Overshoot,
		RubberBand:        o.RubberBand,
		AnimationDuration: o.AnimationDuration,
		FlingFriction:     o.FlingFriction,
		FlingMinVelocity:  o.FlingMinVelocity,
	}
}

// Loader returns the tile loader options.
func (o Options) Loader() tilecache.Options {
	return tilecache.Options{
		Budget:        int64(o.CacheBudget),
		Workers:       o.Workers,
		QueueSize:     o.QueueSize,
		DecodeTimeout: o.DecodeTimeout,
		MaxAttempts:   o.MaxAttempts,
		BackoffBase:   o.BackoffBase,
		BackoffMax:    o.BackoffMax,
	}
}
