package vm

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtm0/smap/internal/points"
)

var testRecs = []points.Record{
	{Timestamp: 1589500800000, GPI: 12, Latitude: 45.5, Longitude: -100.25, Values: []float64{0.25, math.NaN()}},
	{Timestamp: 1589500800000, GPI: 13, Latitude: 45.5, Longitude: -99.875, Values: []float64{0.125, 3}},
}

var testVars = []string{"soil_moisture_am", "retrieval_qual_flag_am"}

func TestNewClient_Errors(t *testing.T) {
	tests := []struct {
		name, url, prefix string
	}{
		{"unsupported path", "http://localhost:8428/api/v1/write", "smap"},
		{"bad prefix", "http://localhost:8428/write", "smap_l3"},
		{"empty prefix", "http://localhost:8428/write", ""},
		{"bad url", "http://[::1", "smap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(slog.Default(), tt.url, 1, tt.prefix)
			require.Error(t, err)
		})
	}
}

func TestRecToInfluxDB(t *testing.T) {
	var sb strings.Builder
	recToInfluxDB(&sb, &testRecs[1], testVars, "smap")
	assert.Equal(t, "smap,gpi=13,la=45.5000,lo=-99.8750 soil_moisture_am=0.125,retrieval_qual_flag_am=3 1589500800000", sb.String())

	sb.Reset()
	recToInfluxDB(&sb, &testRecs[0], testVars, "smap")
	assert.Equal(t, "smap,gpi=12,la=45.5000,lo=-100.2500 soil_moisture_am=0.25 1589500800000", sb.String())
}

func TestRecToCSV(t *testing.T) {
	var sb strings.Builder
	recToCSV(&sb, &testRecs[0], testVars, "smap")
	assert.Equal(t, "1589500800000,12,45.5000,-100.2500,0.25,", sb.String())
}

func TestCSVAPIParams(t *testing.T) {
	got := csvAPIParams("smap", testVars)
	assert.Equal(t, "1:time:unix_ms,2:label:gpi,3:label:la,4:label:lo,5:metric:smap_soil_moisture_am,6:metric:smap_retrieval_qual_flag_am", got["format"])
}

func TestInsert(t *testing.T) {
	tests := []struct {
		path      string
		wantQuery string
		wantLine  string
	}{
		{"/write", "precision=ms", "smap,gpi=12,la=45.5000,lo=-100.2500 soil_moisture_am=0.25 1589500800000"},
		{"/api/v1/import/csv", "format=", "1589500800000,12,45.5000,-100.2500,0.25,"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var gotPath, gotQuery, gotBody string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotQuery = r.URL.RawQuery
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				w.WriteHeader(http.StatusNoContent)
			}))
			defer srv.Close()

			c, err := NewClient(slog.Default(), srv.URL+tt.path, 2, "smap")
			require.NoError(t, err)
			require.NoError(t, c.Insert(context.Background(), testVars, testRecs))

			assert.Equal(t, tt.path, gotPath)
			assert.Contains(t, gotQuery, tt.wantQuery)
			lines := strings.Split(strings.TrimSuffix(gotBody, "\n"), "\n")
			require.Len(t, lines, 2)
			assert.Equal(t, tt.wantLine, lines[0])
		})
	}
}

func TestInsert_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "cannot parse line", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewClient(slog.Default(), srv.URL+"/write", 1, "smap")
	require.NoError(t, err)
	err = c.Insert(context.Background(), testVars, testRecs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "cannot parse line")
}

func TestInsert_Empty(t *testing.T) {
	c, err := NewClient(slog.Default(), "http://127.0.0.1:1/write", 1, "smap")
	require.NoError(t, err)
	require.NoError(t, c.Insert(context.Background(), testVars, nil))
}
