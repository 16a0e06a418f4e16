package fetcher

import "strings"

const maxFilenameLen = 120

// sanitizeReplacer strips characters that are path separators or reserved on
// common filesystems.
var sanitizeReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"\x00", "",
)

// SanitizeFilename makes a string safe to use as a single path component.
func SanitizeFilename(name string) string {
	name = sanitizeReplacer.Replace(strings.TrimSpace(name))

	// Drop remaining control characters.
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	name = b.String()

	// Leading dots hide files; trailing dots and spaces break Windows.
	name = strings.Trim(name, ". ")

	if len(name) > maxFilenameLen {
		name = strings.TrimRight(name[:maxFilenameLen], ". ")
	}
	if name == "" {
		name = "untitled"
	}
	return name
}
