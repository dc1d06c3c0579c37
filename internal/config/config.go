// Package config reads the exporter settings from the environment.
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Config holds all exporter settings, populated from environment variables.
type Config struct {
	// Dataset layout and reader options.
	DataPath       string
	SubpathFormats []string
	CRID           int
	Parameters     []string
	Overpass       string
	OverpassSuffix bool
	MultiMatch     string
	GridPath       string
	BBox           []float64 // min lon, min lat, max lon, max lat
	SkipFailures   bool

	// Sink selection.
	Sink          string
	VMInsertURL   string
	MetricPrefix  string
	Concurrency   int
	RecsPerInsert int
	KafkaBrokers  []string
	KafkaTopic    string

	// Optional S3 staging; disabled without a bucket.
	S3Bucket  string
	S3Prefix  string
	AWSRegion string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	crid, err := intEnv("SMAP_CRID", 0)
	if err != nil {
		return nil, err
	}
	concurrency, err := intEnv("CONCURRENCY", runtime.NumCPU())
	if err != nil {
		return nil, err
	}
	recsPerInsert, err := intEnv("RECS_PER_INSERT", 500)
	if err != nil {
		return nil, err
	}
	suffix, err := boolEnv("SMAP_OVERPASS_SUFFIX", true)
	if err != nil {
		return nil, err
	}
	skip, err := boolEnv("SMAP_SKIP_FAILURES", true)
	if err != nil {
		return nil, err
	}
	shutdown, err := time.ParseDuration(envOrDefault("SHUTDOWN_TIMEOUT", "10s"))
	if err != nil || shutdown <= 0 {
		return nil, errors.New("invalid SHUTDOWN_TIMEOUT")
	}
	bbox, err := parseBBox(os.Getenv("SMAP_BBOX"))
	if err != nil {
		return nil, err
	}

	subpath := splitList(envOrDefault("SMAP_SUBPATH_FORMATS", "%Y.%m.%d"))
	if len(subpath) == 1 && subpath[0] == "none" {
		subpath = nil
	}
	overpass := strings.ToUpper(envOrDefault("SMAP_OVERPASS", "AM"))
	if overpass == "AUTO" {
		overpass = ""
	}

	cfg := &Config{
		DataPath:       os.Getenv("SMAP_DATA_PATH"),
		SubpathFormats: subpath,
		CRID:           crid,
		Parameters:     splitList(envOrDefault("SMAP_PARAMETERS", "soil_moisture")),
		Overpass:       overpass,
		OverpassSuffix: suffix,
		MultiMatch:     envOrDefault("SMAP_MULTI_MATCH", "error"),
		GridPath:       os.Getenv("SMAP_GRID_PATH"),
		BBox:           bbox,
		SkipFailures:   skip,

		Sink:          envOrDefault("SINK", "vm"),
		VMInsertURL:   envOrDefault("VM_INSERT_URL", "http://localhost:8428/write"),
		MetricPrefix:  envOrDefault("METRIC_PREFIX", "smap"),
		Concurrency:   concurrency,
		RecsPerInsert: recsPerInsert,
		KafkaBrokers:  splitList(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:    envOrDefault("KAFKA_TOPIC", "smap-soil-moisture"),

		S3Bucket:  os.Getenv("S3_BUCKET"),
		S3Prefix:  os.Getenv("S3_PREFIX"),
		AWSRegion: os.Getenv("AWS_DEFAULT_REGION"),

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "text"),
		ShutdownTimeout: shutdown,
	}

	if cfg.DataPath == "" {
		return nil, errors.New("SMAP_DATA_PATH is required")
	}
	if len(cfg.Parameters) == 0 {
		return nil, errors.New("SMAP_PARAMETERS is empty")
	}
	switch cfg.Overpass {
	case "", "AM", "PM":
	default:
		return nil, errors.Errorf("SMAP_OVERPASS must be AM, PM or auto, got %q", cfg.Overpass)
	}
	switch cfg.Sink {
	case "vm":
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC is required")
		}
	default:
		return nil, errors.Errorf("unknown SINK %q", cfg.Sink)
	}
	if cfg.Concurrency <= 0 || cfg.RecsPerInsert <= 0 {
		return nil, errors.New("CONCURRENCY and RECS_PER_INSERT must be positive")
	}
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Errorf("invalid %s %q", key, s)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, errors.Errorf("invalid %s %q", key, s)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBBox(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := splitList(s)
	if len(parts) != 4 {
		return nil, errors.Errorf("SMAP_BBOX needs min_lon,min_lat,max_lon,max_lat, got %q", s)
	}
	out := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, errors.Errorf("invalid SMAP_BBOX %q", s)
		}
		out[i] = f
	}
	if out[0] > out[2] || out[1] > out[3] {
		return nil, errors.Errorf("SMAP_BBOX %q has min above max", s)
	}
	return out, nil
}
