// Package vm inserts point records into VictoriaMetrics.
package vm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rtm0/smap/internal/points"
)

// Client is a Victoria Metrics client capable of inserting soil moisture
// records via various protocols.
type Client struct {
	logger       *slog.Logger
	httpCli      *http.Client
	insertURL    *url.URL
	metricPrefix string
	apiParams    apiParamsFunc
	recToText    recToTextFunc
}

const metricPrefixRE = "^[a-zA-Z0-9]+$"

var metricPrefixPattern = regexp.MustCompile(metricPrefixRE)

// NewClient creates a new VM client.
func NewClient(logger *slog.Logger, insertURL string, maxConns int, metricPrefix string) (*Client, error) {
	u, err := url.Parse(insertURL)
	if err != nil {
		return nil, errors.Wrapf(err, "insert url %q", insertURL)
	}
	if !metricPrefixPattern.MatchString(metricPrefix) {
		return nil, errors.Errorf("metric prefix %q does not match %q regular expression", metricPrefix, metricPrefixRE)
	}

	apiParams := apiParamsFuncs[u.Path]
	recToText := recToTextFuncs[u.Path]
	if apiParams == nil || recToText == nil {
		return nil, errors.Errorf("inserting into %q is not supported", insertURL)
	}

	return &Client{
		logger: logger,
		httpCli: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        maxConns,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: maxConns,
				MaxConnsPerHost:     maxConns,
			},
		},
		insertURL:    u,
		metricPrefix: metricPrefix,
		apiParams:    apiParams,
		recToText:    recToText,
	}, nil
}

// Name identifies the sink in logs and metrics.
func (c *Client) Name() string { return "vm" }

// Insert inserts records into Victoria Metrics. vars names the record values.
func (c *Client) Insert(ctx context.Context, vars []string, recs []points.Record) error {
	if len(recs) == 0 {
		return nil
	}
	u := *c.insertURL
	q := u.Query()
	for name, value := range c.apiParams(c.metricPrefix, vars) {
		q.Set(name, value)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), recsToText(recs, vars, c.metricPrefix, c.recToText))
	if err != nil {
		return errors.Wrap(err, "build insert request")
	}
	req.Header.Set("Content-Type", "text/plain")

	res, err := c.httpCli.Do(req)
	if err != nil {
		c.logger.Error("Could not post data", "err", err)
		return errors.Wrap(err, "post records")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		c.logger.Error("Unexpected status", "code", res.StatusCode, "body", string(body))
		return errors.Errorf("unexpected status %d: %s", res.StatusCode, bytes.TrimSpace(body))
	}
	if _, err := io.Copy(io.Discard, res.Body); err != nil {
		c.logger.Error("Failed to drain response body", "err", err)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpCli.CloseIdleConnections()
	return nil
}

type apiParamsFunc func(metricPrefix string, vars []string) map[string]string

var apiParamsFuncs = map[string]apiParamsFunc{
	"/influx/write":        influxDBAPIParams,
	"/influx/api/v2/write": influxDBAPIParams,
	"/write":               influxDBAPIParams,
	"/api/v2/write":        influxDBAPIParams,
	"/api/v1/import/csv":   csvAPIParams,
}

func influxDBAPIParams(string, []string) map[string]string {
	return map[string]string{"precision": "ms"}
}

func csvAPIParams(metricPrefix string, vars []string) map[string]string {
	cols := []string{"1:time:unix_ms", "2:label:gpi", "3:label:la", "4:label:lo"}
	for i, v := range vars {
		cols = append(cols, fmt.Sprintf("%d:metric:%s_%s", i+5, metricPrefix, v))
	}
	return map[string]string{"format": strings.Join(cols, ",")}
}

type recToTextFunc func(*strings.Builder, *points.Record, []string, string)

// recsToText converts multiple records to text.
func recsToText(recs []points.Record, vars []string, metricPrefix string, recToText recToTextFunc) io.Reader {
	var sb strings.Builder
	for i := range recs {
		recToText(&sb, &recs[i], vars, metricPrefix)
		sb.WriteString("\n")
	}
	return strings.NewReader(sb.String())
}

var recToTextFuncs = map[string]recToTextFunc{
	"/influx/write":        recToInfluxDB,
	"/influx/api/v2/write": recToInfluxDB,
	"/write":               recToInfluxDB,
	"/api/v2/write":        recToInfluxDB,
	"/api/v1/import/csv":   recToCSV,
}

// recToInfluxDB converts a record into InfluxDB line protocol and appends it
// to the string builder. NaN values are left out.
func recToInfluxDB(sb *strings.Builder, r *points.Record, vars []string, metricPrefix string) {
	fmt.Fprintf(sb, "%s,gpi=%d,la=%.4f,lo=%.4f ", metricPrefix, r.GPI, r.Latitude, r.Longitude)
	first := true
	for i, v := range vars {
		if math.IsNaN(r.Values[i]) {
			continue
		}
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(v)
		sb.WriteByte('=')
		sb.WriteString(strconv.FormatFloat(r.Values[i], 'g', -1, 64))
	}
	fmt.Fprintf(sb, " %d", r.Timestamp)
}

// recToCSV converts a record into a CSV record and appends it to the string
// builder. NaN values become empty columns.
func recToCSV(sb *strings.Builder, r *points.Record, _ []string, _ string) {
	fmt.Fprintf(sb, "%d,%d,%.4f,%.4f", r.Timestamp, r.GPI, r.Latitude, r.Longitude)
	for _, v := range r.Values {
		sb.WriteByte(',')
		if !math.IsNaN(v) {
			sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
	}
}
