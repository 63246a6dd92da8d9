package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// illegal characters stripped from artifact file names. Covers both
// Windows-reserved and shell-hostile characters.
const illegalFilenameChars = `<>:"/\|?*`

// CleanFilename turns an article title into a safe file stem: illegal
// characters removed, whitespace collapsed to single spaces, length capped
// at 100 runes. An empty or fully-stripped title becomes "untitled".
func CleanFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		if strings.ContainsRune(illegalFilenameChars, r) || r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	name := strings.Join(strings.Fields(b.String()), " ")
	if runes := []rune(name); len(runes) > 100 {
		name = strings.TrimSpace(string(runes[:100]))
	}
	if name == "" {
		return "untitled"
	}
	return name
}

// uniquePath returns dir/stem+ext, appending _N suffixes until the
// name is free. Existing files are never overwritten: two articles sharing
// a title both keep their artifacts.
func uniquePath(dir, stem, ext string) string {
	path := filepath.Join(dir, stem+ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
}
