package staging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtm0/smap/internal/grid"
	"github.com/rtm0/smap/internal/smap"
)

// fakeS3 serves objects from memory, two keys per listing page.
type fakeS3 struct {
	s3iface.S3API
	objects map[string]string
	gets    []string
	lists   int
}

func (f *fakeS3) ListObjectsV2WithContext(_ aws.Context, in *s3.ListObjectsV2Input, _ ...request.Option) (*s3.ListObjectsV2Output, error) {
	f.lists++
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	end := min(start+2, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, &s3.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	key := aws.StringValue(in.Key)
	f.gets = append(f.gets, key)
	body, ok := f.objects[key]
	if !ok {
		return nil, errors.New(s3.ErrCodeNoSuchKey)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewBufferString(body))}, nil
}

func newFake() *fakeS3 {
	return &fakeS3{objects: map[string]string{
		"smap/2020.05.15/SMAP_L3_SM_P_20200515_R18290_001.h5":     "day15",
		"smap/2020.05.15/SMAP_L3_SM_P_20200515_R18290_001.h5.xml": "meta",
		"smap/2020.05.15/SMAP_L3_SM_P_20200515_R18290_002.h5":     "day15-v2",
		"smap/2020.05.15/extra/SMAP_L3_SM_P_20200515_R1_001.h5":   "nested",
		"smap/2020.05.16/SMAP_L3_SM_P_20200516_R18290_001.h5":     "day16",
	}}
}

func TestStage(t *testing.T) {
	api := newFake()
	root := t.TempDir()
	s := New(api, "bucket", "smap", root, slog.Default())

	got, err := s.Stage(context.Background(), "2020.05.15", "SMAP_L3_SM_P_20200515_*.h5")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "2020.05.15", "SMAP_L3_SM_P_20200515_R18290_001.h5"),
		filepath.Join(root, "2020.05.15", "SMAP_L3_SM_P_20200515_R18290_002.h5"),
	}, got)
	assert.Greater(t, api.lists, 1)

	b, err := os.ReadFile(got[1])
	require.NoError(t, err)
	assert.Equal(t, "day15-v2", string(b))

	// a second run finds everything in place
	api.gets = nil
	_, err = s.Stage(context.Background(), "2020.05.15", "SMAP_L3_SM_P_20200515_*.h5")
	require.NoError(t, err)
	assert.Empty(t, api.gets)
}

func TestStage_RefetchesOnSizeChange(t *testing.T) {
	api := newFake()
	root := t.TempDir()
	dst := filepath.Join(root, "2020.05.16", "SMAP_L3_SM_P_20200516_R18290_001.h5")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, []byte("partial-download"), 0o644))

	s := New(api, "bucket", "smap", root, slog.Default())
	_, err := s.Stage(context.Background(), "2020.05.16", "SMAP_L3_SM_P_20200516_*.h5")
	require.NoError(t, err)

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "day16", string(b))
}

func TestStage_NothingToStage(t *testing.T) {
	s := New(newFake(), "bucket", "smap", t.TempDir(), slog.Default())
	got, err := s.Stage(context.Background(), "2020.05.17", "SMAP_L3_SM_P_20200517_*.h5")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStageDay(t *testing.T) {
	root := t.TempDir()
	g, err := grid.New([]float64{0}, []float64{0}, nil, nil, 0)
	require.NoError(t, err)
	opts := smap.DefaultDatasetOptions()
	opts.Reader.Grid = g
	opts.MultiMatch = smap.MatchLast
	ds, err := smap.NewDataset(root, opts)
	require.NoError(t, err)

	s := New(newFake(), "bucket", "smap", root, slog.Default())
	ts := time.Date(2020, 5, 15, 0, 0, 0, 0, time.UTC)
	staged, err := s.StageDay(context.Background(), ds, ts)
	require.NoError(t, err)
	require.Len(t, staged, 2)

	found, err := ds.SearchFile(ts)
	require.NoError(t, err)
	assert.Equal(t, staged[1], found)
}

func TestStage_FlatBucket(t *testing.T) {
	api := &fakeS3{objects: map[string]string{
		"SMAP_L3_SM_P_20200515_R16515_001.h5":            "root",
		"2020.05.15/SMAP_L3_SM_P_20200515_R16515_001.h5": "nested",
	}}
	root := t.TempDir()
	s := New(api, "bucket", "", root, slog.Default())

	got, err := s.Stage(context.Background(), "", "SMAP_L3_SM_P_20200515_*.h5")
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(root, "SMAP_L3_SM_P_20200515_R16515_001.h5")}, got)
	assert.Equal(t, []string{"SMAP_L3_SM_P_20200515_R16515_001.h5"}, api.gets)

	b, err := os.ReadFile(got[0])
	require.NoError(t, err)
	assert.Equal(t, "root", string(b))
}

func TestStage_PrefixWithoutSubdir(t *testing.T) {
	api := &fakeS3{objects: map[string]string{
		"smap/SMAP_L3_SM_P_20200515_R16515_001.h5": "day15",
	}}
	root := t.TempDir()
	s := New(api, "bucket", "smap/", root, slog.Default())

	got, err := s.Stage(context.Background(), "", "SMAP_L3_SM_P_20200515_*.h5")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "SMAP_L3_SM_P_20200515_R16515_001.h5")}, got)
}

func TestStage_MalformedPattern(t *testing.T) {
	api := newFake()
	s := New(api, "bucket", "smap", t.TempDir(), slog.Default())

	_, err := s.Stage(context.Background(), "2020.05.15", "SMAP_L3_SM_P_2020[0515_*.h5")
	require.ErrorIs(t, err, path.ErrBadPattern)
	assert.Zero(t, api.lists)
}
