package transcoder

import "path/filepath"

// PreviewSuffix replaces the extension of the source file name
const PreviewSuffix = "_demo.mp4"

// PreviewPath returns where the preview of inputPath is written: the same
// directory, the file name without its last four characters (".mp4", ".mov",
// ...) and PreviewSuffix appended. Receivers locate previews by this name, so
// the rule does not look at the actual extension length. Names of four
// characters or fewer are stripped entirely.
func PreviewPath(inputPath string) string {
	dir, name := filepath.Split(inputPath)
	runes := []rune(name)
	name = string(runes[:max(len(runes)-4, 0)])
	return filepath.Join(dir, name+PreviewSuffix)
}
