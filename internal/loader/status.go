package loader

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	devStatusStartRe = regexp.MustCompile(`^development_status:\s*$`)
	epicStatusLineRe = regexp.MustCompile(`^\s+epic-(\d+):\s*(\S+)\s*$`)
)

// ParseEpicStatuses reads epic-N entries from the development_status block
// of a sprint status document. The block ends at the first unindented line.
func ParseEpicStatuses(content string) map[string]string {
	statuses := map[string]string{}
	inBlock := false
	for _, line := range splitLines(content) {
		if devStatusStartRe.MatchString(line) {
			inBlock = true
			continue
		}
		if !inBlock {
			continue
		}
		if line != "" && !unicode.IsSpace(rune(line[0])) {
			break
		}
		if m := epicStatusLineRe.FindStringSubmatch(line); m != nil {
			statuses[m[1]] = strings.ToLower(strings.TrimSpace(m[2]))
		}
	}
	return statuses
}
