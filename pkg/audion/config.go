package audion

import (
	"runtime"
	"time"

	"github.com/himanishpuri/audion/internal/audio"
	"github.com/himanishpuri/audion/internal/visual"
)

type Config struct {
	DBPath         string
	TempDir        string
	CacheDir       string
	CacheTTL       time.Duration
	AllowedFormats []string
	FFmpegBin      string
	// Spectrograms gates image rendering for every request.
	Spectrograms      bool
	SpectrogramWidth  int
	SpectrogramHeight int
	Workers           int
	History           bool
	Logger            Logger
	Storage           Storage
	Progress          ProgressFunc
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

// WithCacheDir enables the on-disk feature cache in dir.
func WithCacheDir(dir string) Option {
	return func(c *Config) {
		c.CacheDir = dir
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.CacheTTL = ttl
	}
}

func WithAllowedFormats(formats ...string) Option {
	return func(c *Config) {
		c.AllowedFormats = formats
	}
}

func WithFFmpeg(bin string) Option {
	return func(c *Config) {
		c.FFmpegBin = bin
	}
}

func WithSpectrograms(enabled bool) Option {
	return func(c *Config) {
		c.Spectrograms = enabled
	}
}

func WithSpectrogramSize(width, height int) Option {
	return func(c *Config) {
		c.SpectrogramWidth = width
		c.SpectrogramHeight = height
	}
}

// WithWorkers bounds how many clips are decoded and profiled at once.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

// WithHistory turns run persistence on or off.
func WithHistory(enabled bool) Option {
	return func(c *Config) {
		c.History = enabled
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(c *Config) {
		c.Progress = fn
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:            "audion.sqlite3",
		TempDir:           "/tmp",
		AllowedFormats:    audio.DefaultFormats,
		FFmpegBin:         "ffmpeg",
		Spectrograms:      true,
		SpectrogramWidth:  visual.DefaultWidth,
		SpectrogramHeight: visual.DefaultHeight,
		Workers:           runtime.NumCPU(),
		History:           true,
	}
}
