package fetcher

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// FileInfo describes a candidate source file, local or remote.
type FileInfo struct {
	Name     string
	Location string // local path or remote URL
	Size     int64
	ModTime  time.Time
}

// ListDir returns the regular files directly inside dir.
func ListDir(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "list dir %s", dir)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, eris.Wrapf(err, "stat %s", e.Name())
		}
		files = append(files, FileInfo{
			Name:     e.Name(),
			Location: filepath.Join(dir, e.Name()),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}
	return files, nil
}

// Latest picks the most recently modified file whose name starts with
// prefix and ends with one of exts (case-insensitive). Ties on modification
// time go to the lexicographically greatest name.
func Latest(files []FileInfo, prefix string, exts ...string) (FileInfo, bool) {
	var matches []FileInfo
	for _, f := range files {
		name := strings.ToLower(f.Name)
		if !strings.HasPrefix(name, strings.ToLower(prefix)) {
			continue
		}
		if len(exts) > 0 && !hasExt(name, exts) {
			continue
		}
		matches = append(matches, f)
	}
	if len(matches) == 0 {
		return FileInfo{}, false
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].ModTime.Equal(matches[j].ModTime) {
			return matches[i].ModTime.After(matches[j].ModTime)
		}
		return matches[i].Name > matches[j].Name
	})
	return matches[0], true
}

func hasExt(name string, exts []string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(name, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
