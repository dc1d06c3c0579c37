package smap

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/pkg/errors"
)

const filenamePrefix = "SMAP_L3_SM_P_"

// MatchPolicy decides what happens when several files match a day.
type MatchPolicy int

const (
	// MatchError fails with ErrAmbiguousFile.
	MatchError MatchPolicy = iota
	// MatchFirst takes the lexicographically first file.
	MatchFirst
	// MatchLast takes the lexicographically last file, usually the latest
	// product version.
	MatchLast
)

// ParseMatchPolicy parses "error", "first" or "last".
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch s {
	case "error", "":
		return MatchError, nil
	case "first":
		return MatchFirst, nil
	case "last":
		return MatchLast, nil
	}
	return MatchError, errors.Errorf("unknown match policy %q", s)
}

// DatasetOptions configure a Dataset. Start from DefaultDatasetOptions.
type DatasetOptions struct {
	// SubpathFormats are strftime formats, one per directory level below the
	// root. None means the files sit directly in the root.
	SubpathFormats []string
	// DateFormat formats the date token of the file name.
	DateFormat string
	// CRID restricts the files to one composite release id; 0 accepts any.
	CRID int
	// MultiMatch resolves days with more than one matching file.
	MultiMatch MatchPolicy
	// Reader is used unchanged for every file.
	Reader Options
}

// DefaultDatasetOptions expects one directory per day named YYYY.MM.DD.
func DefaultDatasetOptions() DatasetOptions {
	return DatasetOptions{
		SubpathFormats: []string{"%Y.%m.%d"},
		DateFormat:     "%Y%m%d",
		Reader:         DefaultOptions(),
	}
}

// Dataset is a directory tree of daily L3 files.
type Dataset struct {
	root    string
	opts    DatasetOptions
	subpath []*strftime.Strftime
	date    *strftime.Strftime
}

// NewDataset binds a data root to a configuration.
func NewDataset(root string, opts DatasetOptions) (*Dataset, error) {
	if opts.DateFormat == "" {
		opts.DateFormat = "%Y%m%d"
	}
	reader, err := opts.Reader.withDefaults()
	if err != nil {
		return nil, err
	}
	opts.Reader = reader

	d := &Dataset{root: root, opts: opts}
	for _, f := range opts.SubpathFormats {
		p, err := strftime.New(f)
		if err != nil {
			return nil, errors.Wrapf(err, "subpath format %q", f)
		}
		d.subpath = append(d.subpath, p)
	}
	d.date, err = strftime.New(opts.DateFormat)
	if err != nil {
		return nil, errors.Wrapf(err, "date format %q", opts.DateFormat)
	}
	return d, nil
}

// Root returns the data root.
func (d *Dataset) Root() string { return d.root }

// Options returns the configuration with defaults applied.
func (d *Dataset) Options() DatasetOptions { return d.opts }

// TimestampsForRange returns one timestamp per day from start to end, both
// included. It does not look at the file system.
func (d *Dataset) TimestampsForRange(start, end time.Time) []time.Time {
	return DailyRange(start, end)
}

// DailyRange returns start and the same wall clock time on each following
// calendar day up to end. Days are counted in the location of start, so a
// daylight saving change in between does not shift the entries. The result is
// empty when end is before start.
func DailyRange(start, end time.Time) []time.Time {
	days := calendarDays(start, end.In(start.Location()))
	if days >= 0 && start.AddDate(0, 0, days).After(end) {
		days--
	}
	if days < 0 {
		return nil
	}
	out := make([]time.Time, days+1)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

// calendarDays is the number of date changes from a to b.
func calendarDays(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da) / (24 * time.Hour))
}

// Subdir returns the directory of a day relative to the root.
func (d *Dataset) Subdir(ts time.Time) string {
	parts := make([]string, len(d.subpath))
	for i, p := range d.subpath {
		parts[i] = p.FormatString(ts)
	}
	return filepath.Join(parts...)
}

// FilenamePattern returns the glob pattern of the files of a day.
func (d *Dataset) FilenamePattern(ts time.Time) string {
	release := "_*"
	if d.opts.CRID != 0 {
		release = "_R" + strconv.Itoa(d.opts.CRID) + "*"
	}
	return filenamePrefix + d.date.FormatString(ts) + release + ".h5"
}

// SearchFile finds the file of a day, applying the match policy when there is
// more than one.
func (d *Dataset) SearchFile(ts time.Time) (string, error) {
	dir := filepath.Join(d.root, d.Subdir(ts))
	pattern := d.FilenamePattern(ts)
	if _, err := filepath.Match(pattern, ""); err != nil {
		return "", errors.Wrapf(err, "file pattern %q", pattern)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrapf(ErrFileNotFound, "%s in %s", pattern, dir)
		}
		return "", errors.Wrapf(err, "search %s", dir)
	}
	var matches []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, e.Name())
		if err != nil {
			return "", errors.Wrapf(err, "file pattern %q", pattern)
		}
		if ok {
			matches = append(matches, e.Name())
		}
	}

	switch {
	case len(matches) == 0:
		return "", errors.Wrapf(ErrFileNotFound, "%s in %s", pattern, dir)
	case len(matches) == 1, d.opts.MultiMatch == MatchFirst:
		return filepath.Join(dir, matches[0]), nil
	case d.opts.MultiMatch == MatchLast:
		return filepath.Join(dir, matches[len(matches)-1]), nil
	}
	return "", errors.Wrapf(ErrAmbiguousFile, "%s in %s: %v", pattern, dir, matches)
}

// ReadImage reads the image of a day. The file is closed before returning.
func (d *Dataset) ReadImage(ts time.Time) (*Image, error) {
	path, err := d.SearchFile(ts)
	if err != nil {
		return nil, err
	}
	r, err := NewImageReader(path, d.opts.Reader)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	d.opts.Reader.Logger.Debug("reading image", "path", path, "date", ts.Format(time.DateOnly))
	return r.Read(ts)
}

// Iterate reads the days from start to end one after the other and hands each
// result to fn. Per-day failures are passed to fn as err; iteration stops when
// fn returns an error, which Iterate then returns.
func (d *Dataset) Iterate(start, end time.Time, fn func(ts time.Time, img *Image, err error) error) error {
	for _, ts := range d.TimestampsForRange(start, end) {
		img, err := d.ReadImage(ts)
		if err := fn(ts, img, err); err != nil {
			return err
		}
	}
	return nil
}
