package winestage

import (
	"regexp"
	"strings"
)

var (
	// compiler chatter that is informational only
	informationalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`:\s*warning:`),
		regexp.MustCompile(`:\s*note:`),
		regexp.MustCompile(`:\s*In (function|member function|constructor|destructor) `),
		regexp.MustCompile(`^In file included from `),
		regexp.MustCompile(`^\s+from \S+:\d+[:,]`),
		regexp.MustCompile(`^\s*\d*\s*\|`),
		regexp.MustCompile(`^\s*\^~*\s*$`),
		regexp.MustCompile(`^\s*~+\^?~*\s*$`),
		regexp.MustCompile(`^\s*[0-9]+ warnings? generated\.?$`),
		regexp.MustCompile(`: At (top level|global scope):$`),
	}
	errorPattern = regexp.MustCompile(`(?i)(\berror\b|\*\*\*|undefined reference|fatal|No such file)`)
)

// IsInformational reports whether a log line is a compiler warning, note or
// context line rather than an actual failure.
func IsInformational(line string) bool {
	for _, re := range informationalPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// FilterDiagnostics drops informational compiler output and blank lines.
func FilterDiagnostics(lines []string) []string {
	var out []string
	for _, l := range lines {
		if strings.TrimSpace(l) == "" || strings.HasPrefix(l, "# ") || IsInformational(l) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// SummarizeLog returns up to n lines worth showing from a stage log: error
// lines when there are any, otherwise the filtered tail.
func SummarizeLog(path string, n int) ([]string, error) {
	raw, err := readLines(path)
	if err != nil {
		return nil, err
	}
	lines := make([]string, len(raw))
	for i, l := range raw {
		lines[i] = strings.TrimRight(l, "\r")
	}

	filtered := FilterDiagnostics(lines)
	var errs []string
	for _, l := range filtered {
		if errorPattern.MatchString(l) {
			errs = append(errs, l)
		}
	}
	if len(errs) > 0 {
		return tail(errs, n), nil
	}
	return tail(filtered, n), nil
}

func tail(lines []string, n int) []string {
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
