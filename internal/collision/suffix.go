package collision

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// suffixedStem matches a stem that already carries an origin suffix,
// anchored strictly at end-of-stem. Such names are never re-suffixed.
var suffixedStem = regexp.MustCompile(`__(UNOE|DOSE)(_\d+)?$`)

// SuffixedSibling inserts __origin between the basename stem and extension.
// A path whose stem is already suffixed is returned unchanged.
func SuffixedSibling(path, origin string) string {
	dir := filepath.Dir(path)
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if suffixedStem.MatchString(stem) {
		return path
	}
	return filepath.Join(dir, stem+"__"+origin+ext)
}

// FreeSuffixedSibling returns the first non-existent suffixed sibling,
// probing _2, _3, … when the plain suffixed name is taken. An
// already-suffixed input is returned unchanged without probing.
func FreeSuffixedSibling(path, origin string) string {
	base := SuffixedSibling(path, origin)
	if base == path {
		return path
	}
	if !pathExists(base) {
		return base
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if !pathExists(candidate) {
			return candidate
		}
	}
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
