package smap

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Overpass selects one of the two daily satellite passes stored in a file.
type Overpass string

const (
	// OverpassResolve lets the reader pick the overpass from the groups found in
	// the file.
	OverpassResolve Overpass = ""
	OverpassAM      Overpass = "AM"
	OverpassPM      Overpass = "PM"
)

// ParseOverpass normalizes s to upper case and checks it names a pass.
func ParseOverpass(s string) (Overpass, error) {
	switch o := Overpass(strings.ToUpper(s)); o {
	case OverpassAM, OverpassPM:
		return o, nil
	}
	return "", errors.Wrapf(ErrInvalidOverpass, "%q is neither AM nor PM", s)
}

// groupPrefix is the fixed part of the retrieval group name; the overpass
// variant appends "_<ORBIT>".
const groupPrefix = "Soil_Moisture_Retrieval_Data"

// GroupName returns the retrieval group holding the fields of an overpass.
// OverpassResolve names the group of single-pass files.
func GroupName(o Overpass) string {
	if o == OverpassResolve {
		return groupPrefix
	}
	return groupPrefix + "_" + string(o)
}

// MatchOverpassGroup reports the overpass suffix of a retrieval group name,
// upper cased and without its leading underscore. ok is false for names not
// matching the template and for the suffix-less group.
func MatchOverpassGroup(name string) (suffix string, ok bool) {
	rest, found := strings.CutPrefix(name, groupPrefix)
	if !found || len(rest) < 2 || rest[0] != '_' {
		return "", false
	}
	return strings.ToUpper(rest[1:]), true
}

// overpassesIn lists the distinct overpass suffixes of the given group names,
// sorted.
func overpassesIn(groups []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, g := range groups {
		if s, ok := MatchOverpassGroup(g); ok && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// fieldSuffix is appended to a parameter to find its field inside the group.
func (o Overpass) fieldSuffix() string {
	if o == OverpassPM {
		return "_pm"
	}
	return ""
}

// outputSuffix is appended to variable names in the returned image.
func (o Overpass) outputSuffix() string {
	return "_" + strings.ToLower(string(o))
}
