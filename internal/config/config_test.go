package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dataPath = "/data/SPL3SMP"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SMAP_DATA_PATH", dataPath)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dataPath, cfg.DataPath)
	assert.Equal(t, []string{"%Y.%m.%d"}, cfg.SubpathFormats)
	assert.Equal(t, 0, cfg.CRID)
	assert.Equal(t, []string{"soil_moisture"}, cfg.Parameters)
	assert.Equal(t, "AM", cfg.Overpass)
	assert.True(t, cfg.OverpassSuffix)
	assert.Equal(t, "error", cfg.MultiMatch)
	assert.Empty(t, cfg.GridPath)
	assert.Nil(t, cfg.BBox)
	assert.True(t, cfg.SkipFailures)
	assert.Equal(t, "vm", cfg.Sink)
	assert.Equal(t, "http://localhost:8428/write", cfg.VMInsertURL)
	assert.Equal(t, "smap", cfg.MetricPrefix)
	assert.Equal(t, runtime.NumCPU(), cfg.Concurrency)
	assert.Equal(t, 500, cfg.RecsPerInsert)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Empty(t, cfg.S3Bucket)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("SMAP_DATA_PATH", dataPath)
	t.Setenv("SMAP_SUBPATH_FORMATS", "%Y, %j")
	t.Setenv("SMAP_CRID", "18290")
	t.Setenv("SMAP_PARAMETERS", "soil_moisture,retrieval_qual_flag")
	t.Setenv("SMAP_OVERPASS", "auto")
	t.Setenv("SMAP_OVERPASS_SUFFIX", "false")
	t.Setenv("SMAP_MULTI_MATCH", "last")
	t.Setenv("SMAP_BBOX", "-10, 35, 30, 60")
	t.Setenv("SINK", "kafka")
	t.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")
	t.Setenv("S3_BUCKET", "smap-mirror")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"%Y", "%j"}, cfg.SubpathFormats)
	assert.Equal(t, 18290, cfg.CRID)
	assert.Equal(t, []string{"soil_moisture", "retrieval_qual_flag"}, cfg.Parameters)
	assert.Equal(t, "", cfg.Overpass)
	assert.False(t, cfg.OverpassSuffix)
	assert.Equal(t, "last", cfg.MultiMatch)
	assert.Equal(t, []float64{-10, 35, 30, 60}, cfg.BBox)
	assert.Equal(t, "kafka", cfg.Sink)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "smap-mirror", cfg.S3Bucket)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_NoSubpath(t *testing.T) {
	t.Setenv("SMAP_DATA_PATH", dataPath)
	t.Setenv("SMAP_SUBPATH_FORMATS", "none")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.SubpathFormats)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing data path", map[string]string{"SMAP_DATA_PATH": ""}, "SMAP_DATA_PATH is required"},
		{"bad crid", map[string]string{"SMAP_CRID": "R18290"}, "SMAP_CRID"},
		{"bad overpass", map[string]string{"SMAP_OVERPASS": "noon"}, "SMAP_OVERPASS"},
		{"empty parameters", map[string]string{"SMAP_PARAMETERS": " , "}, "SMAP_PARAMETERS"},
		{"bad bool", map[string]string{"SMAP_SKIP_FAILURES": "maybe"}, "SMAP_SKIP_FAILURES"},
		{"short bbox", map[string]string{"SMAP_BBOX": "1,2,3"}, "SMAP_BBOX"},
		{"inverted bbox", map[string]string{"SMAP_BBOX": "30,35,-10,60"}, "min above max"},
		{"unknown sink", map[string]string{"SINK": "stdout"}, "unknown SINK"},
		{"kafka without topic", map[string]string{"SINK": "kafka", "KAFKA_TOPIC": ""}, "KAFKA_TOPIC"},
		{"zero concurrency", map[string]string{"CONCURRENCY": "0"}, "must be positive"},
		{"bad shutdown", map[string]string{"SHUTDOWN_TIMEOUT": "soon"}, "SHUTDOWN_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SMAP_DATA_PATH", dataPath)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
