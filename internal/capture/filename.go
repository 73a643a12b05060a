package capture

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxFileNameLength leaves room for the longest suffix this package appends
// (".description"), matching the teacher's 255-byte-path assumption.
const MaxFileNameLength = 243

var (
	illegalFilenameChars = strings.NewReplacer(
		"<", "_", ">", "_", ":", "_", `"`, "_",
		"/", "_", "\\", "_", "|", "_", "?", "_", "*", "_",
	)

	templateKeyPattern = regexp.MustCompile(`%\((\w+)\)s`)
)

// SanitizeFilename replaces the forbidden character set with "_" and
// prefixes a leading "-" with "_", per §6's filename sanitization rule.
func SanitizeFilename(s string) string {
	s = illegalFilenameChars.Replace(s)
	if strings.HasPrefix(s, "-") {
		s = "_" + s
	}
	return s
}

// ExpandTemplate substitutes "%(key)s" placeholders from vals. An unknown key
// is a fatal configuration error reported once with the offending key name,
// per REDESIGN FLAGS (replacing the teacher's silent positional templating).
func ExpandTemplate(format string, vals map[string]string) (string, error) {
	for {
		match := templateKeyPattern.FindStringSubmatch(format)
		if match == nil {
			return format, nil
		}

		key := strings.ToLower(match[1])
		val, ok := vals[key]
		if !ok {
			return "", fmt.Errorf("unknown output format key: %q", match[1])
		}

		format = strings.ReplaceAll(format, match[0], val)
	}
}

// FormatOutputFilename renders the output filename template against a
// sanitized copy of fi, truncating the title if the rendered base name would
// exceed MaxFileNameLength.
func FormatOutputFilename(format string, fi FormatInfo) (string, error) {
	vals := fi.sanitizedCopy()

	fstr, err := ExpandTemplate(format, vals)
	if err != nil {
		return "", err
	}

	if over := len(filepath.Base(fstr)) - MaxFileNameLength; over > 0 {
		title := vals["title"]
		vals["title"] = TruncateString(title, len(title)-over)
		fstr, err = ExpandTemplate(format, vals)
	}

	return fstr, err
}

// TruncateString truncates s to at most maxBytes bytes without splitting a
// multi-byte rune.
func TruncateString(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}

	var b strings.Builder
	r := strings.NewReader(s)
	b.Grow(r.Len())
	curLen := 0

	for {
		ch, size, err := r.ReadRune()
		if err != nil {
			break
		}
		curLen += size
		if curLen > maxBytes {
			break
		}
		b.WriteRune(ch)
	}

	return b.String()
}
