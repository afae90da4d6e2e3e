package loader

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

var (
	priorityTokenRe = regexp.MustCompile(`(?i)\[(HIGH|MEDIUM|LOW)\]`)
	filePathTokenRe = regexp.MustCompile(`\[([^\]]+\.\w+(?::\d+)?)\]\s*$`)
	aiReviewTokenRe = regexp.MustCompile(`(?i)\[AI-Review\]`)
	bracketTokensRe = regexp.MustCompile(`(?i)\[(?:HIGH|MEDIUM|LOW|AI-Review)\]\s*`)
	acReferenceRe   = regexp.MustCompile(`\(AC:\s*([\d,\s]+)\)`)
)

const aiReviewTag = "AI-Review"

// ReviewMetadata is the bracketed metadata carried by a review follow-up line.
type ReviewMetadata struct {
	Priority   int
	FilePath   string
	Tags       []string
	CleanTitle string
}

// ExtractReviewMetadata parses "[HIGH] [AI-Review] Fix x [src/a.go:42]" style
// text. Priority is 0 when no priority token is present.
func ExtractReviewMetadata(text string) ReviewMetadata {
	meta := ReviewMetadata{Tags: []string{}}
	if m := priorityTokenRe.FindStringSubmatch(text); m != nil {
		switch strings.ToLower(m[1]) {
		case "high":
			meta.Priority = models.PriorityHigh
		case "medium":
			meta.Priority = models.PriorityMedium
		case "low":
			meta.Priority = models.PriorityLow
		}
	}
	if m := filePathTokenRe.FindStringSubmatch(text); m != nil {
		meta.FilePath = m[1]
	}
	if aiReviewTokenRe.MatchString(text) {
		meta.Tags = append(meta.Tags, aiReviewTag)
	}

	clean := bracketTokensRe.ReplaceAllString(text, "")
	clean = filePathTokenRe.ReplaceAllString(clean, "")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		clean = strings.TrimSpace(text)
	}
	meta.CleanTitle = clean
	return meta
}

// ExtractACReferences returns the sorted, unique criteria numbers from the
// first "(AC: 1, 3)" annotation in text.
func ExtractACReferences(text string) []int {
	m := acReferenceRe.FindStringSubmatch(text)
	if m == nil {
		return []int{}
	}
	seen := map[int]bool{}
	refs := []int{}
	for _, part := range strings.Split(m[1], ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		refs = append(refs, n)
	}
	sort.Ints(refs)
	return refs
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// BuildSubtaskHTML renders subtasks as a checklist fragment for the tracker.
func BuildSubtaskHTML(subtasks []models.Subtask) string {
	if len(subtasks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<div><ul>")
	for _, st := range subtasks {
		check := "&#9744;"
		if st.Complete {
			check = "&#9745;"
		}
		b.WriteString("<li>")
		b.WriteString(check)
		b.WriteString(" ")
		b.WriteString(htmlEscaper.Replace(st.Description))
		b.WriteString("</li>")
	}
	b.WriteString("</ul></div>")
	return b.String()
}
