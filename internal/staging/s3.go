// Package staging copies the daily files of a dataset from S3 into the local
// data root so the reader can open them.
package staging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"

	"github.com/rtm0/smap/internal/smap"
)

// NewS3 returns an S3 client for the region. An empty region leaves the
// choice to the SDK's environment lookup.
func NewS3(region string) (s3iface.S3API, error) {
	cfg := &aws.Config{}
	if region != "" {
		cfg.Region = aws.String(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "aws session")
	}
	return s3.New(sess), nil
}

// Stager mirrors bucket/prefix/<subdir>/<file> to root/<subdir>/<file>.
type Stager struct {
	api    s3iface.S3API
	bucket string
	prefix string
	root   string
	logger *slog.Logger
}

// New creates a stager writing below root.
func New(api s3iface.S3API, bucket, prefix, root string, logger *slog.Logger) *Stager {
	return &Stager{api: api, bucket: bucket, prefix: prefix, root: root, logger: logger}
}

// StageDay stages the files the dataset would look for on ts.
func (s *Stager) StageDay(ctx context.Context, ds *smap.Dataset, ts time.Time) ([]string, error) {
	return s.Stage(ctx, ds.Subdir(ts), ds.FilenamePattern(ts))
}

// Stage downloads the objects below subdir whose base name matches pattern.
// Files already present locally with the same size are not fetched again.
// It returns the local paths of all matching files.
func (s *Stager) Stage(ctx context.Context, subdir, pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, errors.Wrapf(err, "file pattern %q", pattern)
	}
	// dir is the key directory of the day, "." for the bucket root.
	dir := path.Join(s.prefix, filepath.ToSlash(subdir))
	if dir == "" {
		dir = "."
	}
	listPrefix := dir + "/"
	if dir == "." {
		listPrefix = ""
	}
	objs, err := s.list(ctx, listPrefix)
	if err != nil {
		return nil, err
	}

	var local []string
	for _, obj := range objs {
		key := aws.StringValue(obj.Key)
		name := path.Base(key)
		if path.Dir(key) != dir {
			continue
		}
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, errors.Wrapf(err, "file pattern %q", pattern)
		}
		if !ok {
			continue
		}
		dst := filepath.Join(s.root, subdir, name)
		if fi, err := os.Stat(dst); err == nil && fi.Size() == aws.Int64Value(obj.Size) {
			s.logger.Debug("already staged", "key", key)
			local = append(local, dst)
			continue
		}
		if err := s.download(ctx, key, dst); err != nil {
			return nil, err
		}
		s.logger.Info("staged", "key", key, "path", dst, "bytes", aws.Int64Value(obj.Size))
		local = append(local, dst)
	}
	return local, nil
}

// list calls ListObjectsV2 until no continuation token is left.
func (s *Stager) list(ctx context.Context, prefix string) ([]*s3.Object, error) {
	params := s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	var out []*s3.Object
	for {
		listing, err := s.api.ListObjectsV2WithContext(ctx, &params)
		if err != nil {
			return nil, errors.Wrapf(err, "list s3://%s/%s", s.bucket, prefix)
		}
		out = append(out, listing.Contents...)
		if !aws.BoolValue(listing.IsTruncated) || listing.NextContinuationToken == nil {
			return out, nil
		}
		params.ContinuationToken = listing.NextContinuationToken
	}
}

func (s *Stager) download(ctx context.Context, key, dst string) error {
	res, err := s.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "get s3://%s/%s", s.bucket, key)
	}
	defer res.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "stage %s", key)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".staging-*")
	if err != nil {
		return errors.Wrapf(err, "stage %s", key)
	}
	if _, err := io.Copy(tmp, res.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "download s3://%s/%s", s.bucket, key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "stage %s", key)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), dst), "stage %s", key)
}
