// Package sampler selects a reproducible, conflict-biased sample of
// destination files and records their hashes, so the deduplication phase
// can be proven content-preserving.
package sampler

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tom/unomerge/internal/collision"
	"github.com/tom/unomerge/internal/fsmeta"
	"github.com/tom/unomerge/internal/taxonomy"
	"github.com/tom/unomerge/internal/util"
)

const (
	largestPerBucket = 50
	randomPerBucket  = 200
)

// Header is the column set of a hash sample CSV
var Header = []string{"relative_path", "sha256", "size_bytes"}

// Config holds sampler configuration
type Config struct {
	DestRoot        string
	RunID           string
	ResolutionsPath string
	Concurrency     int
}

// Select builds the sample path list: every conflict outcome from the
// resolution log first, then per content-heavy bucket the largest files and
// a seeded uniform draw. First occurrence wins on duplicates.
func Select(cfg Config) ([]string, error) {
	var sample []string
	seen := make(map[string]bool)
	add := func(rel string) {
		if rel == "" || seen[rel] {
			return
		}
		seen[rel] = true
		sample = append(sample, rel)
	}

	resolutions, err := collision.LoadRecords(cfg.ResolutionsPath)
	if err != nil {
		return nil, err
	}
	for _, rec := range resolutions {
		add(rec.DestPath)
		for _, rel := range strings.Split(rec.ResultingPaths, ";") {
			add(rel)
		}
	}

	for _, bucket := range taxonomy.SampleBuckets() {
		files, err := bucketFiles(cfg.DestRoot, bucket)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			continue
		}

		// Largest N by size, ties broken by path
		bySize := make([]bucketFile, len(files))
		copy(bySize, files)
		sort.Slice(bySize, func(i, j int) bool {
			if bySize[i].size != bySize[j].size {
				return bySize[i].size > bySize[j].size
			}
			return bySize[i].rel < bySize[j].rel
		})
		for i := 0; i < largestPerBucket && i < len(bySize); i++ {
			add(bySize[i].rel)
		}

		// Uniform draw, PRNG seeded per (run id, bucket)
		rng := rand.New(rand.NewSource(seedFor(cfg.RunID, bucket)))
		perm := rng.Perm(len(files))
		picked := 0
		for _, idx := range perm {
			if picked >= randomPerBucket {
				break
			}
			add(files[idx].rel)
			picked++
		}
	}

	return sample, nil
}

type bucketFile struct {
	rel  string
	size int64
}

// bucketFiles lists the regular files of one destination bucket, sorted by
// relative path so the seeded permutation indexes a stable sequence.
func bucketFiles(destRoot, bucket string) ([]bucketFile, error) {
	base := filepath.Join(destRoot, bucket)
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		return nil, nil
	}

	var files []bucketFile
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			util.WarnLog("Sampler: skipping unreadable entry %s: %v", p, err)
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(destRoot, p)
		if err != nil {
			return nil
		}
		files = append(files, bucketFile{rel: filepath.ToSlash(rel), size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk bucket %s: %w", bucket, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

// seedFor derives the deterministic PRNG seed from (run id, bucket)
func seedFor(runID, bucket string) int64 {
	h := fnv.New64a()
	h.Write([]byte(runID))
	h.Write([]byte{'|'})
	h.Write([]byte(bucket))
	return int64(h.Sum64())
}

// WritePathList persists the selected sample so the post-dedupe pass
// re-hashes exactly the same files.
func WritePathList(path string, sample []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create sample path list: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, rel := range sample {
		fmt.Fprintln(w, rel)
	}
	return w.Flush()
}

// ReadPathList loads a persisted sample path list
func ReadPathList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sample path list: %w", err)
	}
	defer f.Close()

	var sample []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			sample = append(sample, line)
		}
	}
	return sample, scanner.Err()
}

// Entry is one hashed sample file
type Entry struct {
	RelPath string
	SHA256  string
	Size    int64
}

// HashSample hashes every sample path and writes the result CSV in sample
// order. Files missing from the destination are recorded with an empty
// hash so pre/post comparison surfaces them.
func HashSample(ctx context.Context, destRoot string, sample []string, outPath string, concurrency int) ([]Entry, error) {
	if concurrency <= 0 {
		concurrency = 4
	}

	entries := make([]Entry, len(sample))
	indexCh := make(chan int, concurrency*2)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexCh {
				select {
				case <-ctx.Done():
					return
				default:
				}

				rel := sample[idx]
				abs := filepath.Join(destRoot, rel)
				entry := Entry{RelPath: rel}

				if info, err := os.Stat(abs); err == nil {
					entry.Size = info.Size()
					if sha, err := fsmeta.HashFile(abs); err == nil {
						entry.SHA256 = sha
					} else {
						util.WarnLog("Sampler: cannot hash %s: %v", rel, err)
					}
				} else {
					util.WarnLog("Sampler: sample path missing: %s", rel)
				}
				entries[idx] = entry
			}
		}()
	}

feed:
	for idx := range sample {
		select {
		case <-ctx.Done():
			break feed
		case indexCh <- idx:
		}
	}
	close(indexCh)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create hash sample: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := util.CSVAppendRow(w, Header); err != nil {
		return nil, err
	}
	for _, e := range entries {
		row := []string{e.RelPath, e.SHA256, strconv.FormatInt(e.Size, 10)}
		if err := util.CSVAppendRow(w, row); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}

	return entries, nil
}

// ReadSampleCSV loads a hash sample CSV back into entries
func ReadSampleCSV(path string) ([]Entry, error) {
	header, rows, err := util.CSVReadAll(path)
	if err != nil {
		return nil, err
	}
	if !util.CSVHeaderEqual(header, Header) {
		return nil, fmt.Errorf("hash sample %s: unexpected header %v", path, header)
	}

	entries := make([]Entry, 0, len(rows))
	for _, rec := range rows {
		size, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("hash sample size %q: %w", rec[2], err)
		}
		entries = append(entries, Entry{RelPath: rec[0], SHA256: rec[1], Size: size})
	}
	return entries, nil
}
