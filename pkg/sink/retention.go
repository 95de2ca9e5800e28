package sink

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

// rotatedFile describes one file discovered in the log directory that is
// eligible for retention sweeps (never the currently-active file).
type rotatedFile struct {
	path    string
	size    int64
	modTime time.Time
}

// listRotatedFiles returns every file in dir matching stem+ext (or its
// .zst/.enc variants), sorted oldest first, excluding activePath.
func listRotatedFiles(dir, stem, ext, activePath string) ([]rotatedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []rotatedFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !isRotatedName(name, stem, ext) {
			continue
		}
		full := filepath.Join(dir, name)
		if full == activePath {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, rotatedFile{path: full, size: info.Size(), modTime: info.ModTime()})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].modTime.Before(out[j].modTime) })
	return out, nil
}

func isRotatedName(name, stem, ext string) bool {
	base := stem + "_"
	if len(name) <= len(base) {
		return false
	}
	if name[:len(base)] != base {
		return false
	}
	rest := name[len(base):]
	return hasAnySuffix(rest, ext, ext+".zst", ext+".enc", ext+".zst.enc")
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if len(s) >= len(suf) && s[len(s)-len(suf):] == suf {
			return true
		}
	}
	return false
}

// applyRetention drops files older than retentionDays, then keeps
// dropping the oldest remaining files while the total size of dir's log
// files exceeds maxTotalSize. Never touches activePath.
func applyRetention(dir, stem, ext, activePath string, retentionDays int, maxTotalSize int64, now time.Time) ([]string, error) {
	files, err := listRotatedFiles(dir, stem, ext, activePath)
	if err != nil {
		return nil, err
	}

	var removed []string
	var kept []rotatedFile

	cutoff := now.AddDate(0, 0, -retentionDays)
	for _, f := range files {
		if retentionDays > 0 && f.modTime.Before(cutoff) {
			if err := os.Remove(f.path); err == nil {
				removed = append(removed, f.path)
			}
			continue
		}
		kept = append(kept, f)
	}

	if maxTotalSize > 0 {
		var total int64
		if info, err := os.Stat(activePath); err == nil {
			total += info.Size()
		}
		for _, f := range kept {
			total += f.size
		}
		i := 0
		for total > maxTotalSize && i < len(kept) {
			f := kept[i]
			if err := os.Remove(f.path); err == nil {
				removed = append(removed, f.path)
				total -= f.size
			}
			i++
		}
	}

	return removed, nil
}
