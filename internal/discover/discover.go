package discover

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/towertools/killfeed/internal/remote"
)

// RemoteFile is a discovered kill-log file handle. Ephemeral: created per
// discovery pass and discarded once the file has been processed.
type RemoteFile struct {
	Path       string
	Size       int64
	FoundUnder string

	// InferredTime is parsed from the filename, best-effort. Files whose
	// name carries no timestamp keep TimeKnown=false and are ordered last,
	// included by default regardless of the processing cursor.
	InferredTime time.Time
	TimeKnown    bool
}

// Filename pattern tiers, tried in order. The primary dotted convention is
// the current one; the variants cover punctuation drift across game updates;
// the final tier accepts any CSV as a last resort.
var patternTiers = [][]*regexp.Regexp{
	{
		regexp.MustCompile(`^\d{4}\.\d{2}\.\d{2}-\d{2}\.\d{2}\.\d{2}\.csv$`),
	},
	{
		regexp.MustCompile(`^\d{4}\.\d{2}\.\d{2}-\d{2}:\d{2}:\d{2}\.csv$`),
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-\d{2}\.\d{2}\.\d{2}\.csv$`),
		regexp.MustCompile(`^\d{8}[-_]\d{6}\.csv$`),
	},
	{
		regexp.MustCompile(`(?i)\.csv$`),
	},
}

// Filename timestamp layouts matching the pattern tiers above.
var filenameLayouts = []string{
	"2006.01.02-15.04.05",
	"2006.01.02-15:04:05",
	"2006-01-02-15.04.05",
	"20060102-150405",
	"20060102_150405",
}

// Discover walks the candidate directories and returns kill-log file handles
// sorted by inferred filename timestamp ascending, unknown-timestamp files
// last. Directory errors are logged and skipped; discovery never aborts on a
// single bad candidate.
func Discover(ctx context.Context, fsys remote.FS, dirs []string, maxDepth int) []RemoteFile {
	// Phase 1: immediate listings plus one level of map subdirectories.
	entries := listCandidates(ctx, fsys, dirs)
	for _, tier := range patternTiers {
		if files := match(entries, tier); len(files) > 0 {
			return sortFiles(files)
		}
	}

	// Phase 2: nothing matched at the expected depth; fall back to a bounded
	// recursive search before giving up.
	var files []RemoteFile
	seen := make(map[string]struct{})
	for _, dir := range dirs {
		if ctx.Err() != nil {
			break
		}
		walk(ctx, fsys, dir, dir, maxDepth, seen, &files)
	}
	return sortFiles(files)
}

// listCandidates lists each candidate directory and one level of known map
// subdirectories beneath it.
func listCandidates(ctx context.Context, fsys remote.FS, dirs []string) []remote.Entry {
	var out []remote.Entry
	seen := make(map[string]struct{})

	addListing := func(dir string) []remote.Entry {
		if _, done := seen[dir]; done {
			return nil
		}
		seen[dir] = struct{}{}
		entries, err := fsys.List(ctx, dir)
		if err != nil {
			logrus.WithField("dir", dir).WithError(err).Debug("candidate directory not listable")
			return nil
		}
		return entries
	}

	for _, dir := range dirs {
		if ctx.Err() != nil {
			break
		}
		for _, entry := range addListing(dir) {
			if entry.IsDir {
				if IsMapSubdir(entry.Name) {
					out = append(out, addListing(entry.Path)...)
				}
				continue
			}
			out = append(out, entry)
		}
	}
	return out
}

// walk recursively collects CSV files up to maxDepth below root.
func walk(ctx context.Context, fsys remote.FS, root, dir string, depth int, seen map[string]struct{}, files *[]RemoteFile) {
	if depth < 0 || ctx.Err() != nil {
		return
	}
	if _, done := seen[dir]; done {
		return
	}
	seen[dir] = struct{}{}

	entries, err := fsys.List(ctx, dir)
	if err != nil {
		logrus.WithField("dir", dir).WithError(err).Debug("skipping unreadable directory")
		return
	}

	permissive := patternTiers[len(patternTiers)-1]
	for _, entry := range entries {
		if entry.IsDir {
			walk(ctx, fsys, root, entry.Path, depth-1, seen, files)
			continue
		}
		if matchesAny(entry.Name, permissive) {
			*files = append(*files, toRemoteFile(entry, root))
		}
	}
}

func match(entries []remote.Entry, tier []*regexp.Regexp) []RemoteFile {
	var files []RemoteFile
	for _, entry := range entries {
		if matchesAny(entry.Name, tier) {
			files = append(files, toRemoteFile(entry, parent(entry.Path)))
		}
	}
	return files
}

func matchesAny(name string, tier []*regexp.Regexp) bool {
	for _, re := range tier {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func toRemoteFile(entry remote.Entry, foundUnder string) RemoteFile {
	f := RemoteFile{
		Path:       entry.Path,
		Size:       entry.Size,
		FoundUnder: foundUnder,
	}
	if ts, ok := InferFileTime(entry.Name); ok {
		f.InferredTime = ts
		f.TimeKnown = true
	}
	return f
}

// InferFileTime parses a timestamp out of a kill-log filename.
func InferFileTime(name string) (time.Time, bool) {
	base := strings.TrimSuffix(name, ".csv")
	base = strings.TrimSuffix(base, ".CSV")
	for _, layout := range filenameLayouts {
		if ts, err := time.Parse(layout, base); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// sortFiles orders files by inferred timestamp ascending; files without an
// inferrable timestamp sort last, in path order for determinism.
func sortFiles(files []RemoteFile) []RemoteFile {
	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		switch {
		case a.TimeKnown && b.TimeKnown:
			if !a.InferredTime.Equal(b.InferredTime) {
				return a.InferredTime.Before(b.InferredTime)
			}
			return a.Path < b.Path
		case a.TimeKnown:
			return true
		case b.TimeKnown:
			return false
		default:
			return a.Path < b.Path
		}
	})
	return files
}

func parent(p string) string {
	if idx := strings.LastIndexByte(p, '/'); idx > 0 {
		return p[:idx]
	}
	return "/"
}
