// Package taxonomy maps top-level source directory names to destination
// subpaths. Classification depends only on the entry's basename, the entry
// kind, and the static table below; it never consults content or metadata.
package taxonomy

import (
	"errors"
	"path"
	"sort"
	"strings"
)

// Origins of the two source volumes, carried as literal strings through
// provenance and collision logs.
const (
	OriginUNOE = "UNOE"
	OriginDOSE = "DOSE"
)

// ErrExcluded marks a basename that is never copied, wherever encountered.
var ErrExcluded = errors.New("excluded system directory")

// excludedNames are always skipped by every walk
var excludedNames = map[string]bool{
	"$RECYCLE.BIN":              true,
	"System Volume Information": true,
}

// Table maps well-known top-level source directory names to destination
// subpaths. Keys are matched exactly, case-sensitive.
var Table = map[string]string{
	"Pictures":     "02_Media/Photos",
	"Photos":       "02_Media/Photos",
	"Camera Roll":  "02_Media/Photos",
	"AUDIO":        "02_Media/Audio",
	"Music":        "02_Media/Audio",
	"Video":        "02_Media/Video",
	"Videos":       "02_Media/Video",
	"Movies":       "02_Media/Video",
	"Documents":    "01_Documents",
	"My Documents": "01_Documents",
	"Desktop":      "01_Documents/Desktop",
	"Downloads":    "01_Documents/Downloads",
	"Personal":     "03_Personal",
	"Research":     "04_Research",
	"Games":        "05_Games",
	"ISOs":         "06_OS_Images",
	"OS Images":    "06_OS_Images",
	"VMs":          "07_ESXi_VMs",
	"ESXi VMs":     "07_ESXi_VMs",
	"Training":     "08_Knowledge_Training",
	"Courses":      "08_Knowledge_Training",
}

// asIsNames land at the destination root under the same name
var asIsNames = map[string]bool{
	"ASH":     true,
	"Backups": true,
	"Dropbox": true,
}

const (
	recoveryName = "found.000"
	recoveryDest = "90_System_Artifacts/Recovered_found.000"

	unmappedDest  = "90_System_Artifacts/Unmapped_Folders"
	looseDest     = "90_System_Artifacts/Loose_Files"
	looseImageDest = "02_Media/Photos/_From_Root"

	// LogsDest is the destination subpath holding run directories
	LogsDest = "90_System_Artifacts/Consolidation_Logs"
)

// imageExtensions for loose top-level files, matched case-insensitively
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
	".heic": true,
}

// Kind distinguishes directory from file classification
type Kind int

const (
	KindDir Kind = iota
	KindFile
)

// IsExcluded reports whether a basename is one of the two Windows system
// directories that are skipped wherever encountered.
func IsExcluded(name string) bool {
	return excludedNames[name]
}

// Classify returns the destination path, relative to the destination root,
// for a depth-1 source entry. Returns ErrExcluded for system directories.
func Classify(origin, name string, kind Kind) (string, error) {
	if IsExcluded(name) {
		return "", ErrExcluded
	}

	if kind == KindDir {
		if sub, ok := Table[name]; ok {
			return sub, nil
		}
		if asIsNames[name] {
			return name, nil
		}
		if name == recoveryName {
			return recoveryDest, nil
		}
		return path.Join(unmappedDest, origin, name), nil
	}

	// Loose top-level file
	ext := strings.ToLower(path.Ext(name))
	if imageExtensions[ext] {
		return path.Join(looseImageDest, origin, name), nil
	}
	return path.Join(looseDest, origin, name), nil
}

// Bucket pairs a top-level source directory name with its shared destination
// subpath. Buckets are "paired" when both origins can contribute to the same
// destination subtree, which is where collisions arise.
type Bucket struct {
	// SourceName is the top-level directory name under each source root
	SourceName string
	// DestRel is the destination subpath, relative to the destination root
	DestRel string
}

// PairedBuckets returns every bucket whose destination is shared between the
// two origins: the mapped taxonomy buckets, the as-is buckets, and the
// recovery directory. Sorted by source name for deterministic iteration.
func PairedBuckets() []Bucket {
	buckets := make([]Bucket, 0, len(Table)+len(asIsNames)+1)
	for name, dest := range Table {
		buckets = append(buckets, Bucket{SourceName: name, DestRel: dest})
	}
	for name := range asIsNames {
		buckets = append(buckets, Bucket{SourceName: name, DestRel: name})
	}
	buckets = append(buckets, Bucket{SourceName: recoveryName, DestRel: recoveryDest})

	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].SourceName < buckets[j].SourceName
	})
	return buckets
}

// SampleBuckets returns the content-heavy destination subpaths the hash
// sampler draws from.
func SampleBuckets() []string {
	return []string{
		"08_Knowledge_Training",
		"02_Media/Video",
		"05_Games",
		"06_OS_Images",
		"07_ESXi_VMs",
		"03_Personal",
		"04_Research",
	}
}

// SkeletonDirs returns every destination subpath the prepare phase creates
// up front, sorted and deduplicated.
func SkeletonDirs() []string {
	seen := map[string]bool{}
	for _, dest := range Table {
		seen[dest] = true
	}
	for name := range asIsNames {
		seen[name] = true
	}
	seen[recoveryDest] = true
	seen[unmappedDest] = true
	seen[looseDest] = true
	seen[looseImageDest] = true
	seen[LogsDest] = true

	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}
