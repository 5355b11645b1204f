package mpris

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var (
	coverStems = []string{"cover", "folder", "album", "front"}
	coverExts  = []string{".jpg", ".jpeg", ".png"}
)

// FindAlbumArt returns the image next to a passage file that best serves as
// its artwork, or an empty string. A sidecar with the passage's own name
// wins over the usual cover names; names match case-insensitively.
func FindAlbumArt(path string) string {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	best, bestRank := "", -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		r := coverRank(e.Name(), stem)
		if r >= 0 && (bestRank < 0 || r < bestRank) {
			best, bestRank = filepath.Join(dir, e.Name()), r
		}
	}
	return best
}

// coverRank orders candidate images; lower is better, -1 rejects the file.
func coverRank(name, stem string) int {
	ext := strings.ToLower(filepath.Ext(name))
	e := slices.Index(coverExts, ext)
	if e < 0 {
		return -1
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if strings.EqualFold(base, stem) {
		return e
	}
	s := slices.IndexFunc(coverStems, func(c string) bool { return strings.EqualFold(c, base) })
	if s < 0 {
		return -1
	}
	return (s+1)*len(coverExts) + e
}
