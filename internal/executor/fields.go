package executor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

// Template is a tracker process template.
type Template string

const (
	TemplateAgile Template = "Agile"
	TemplateScrum Template = "Scrum"
	TemplateCMMI  Template = "CMMI"
	TemplateBasic Template = "Basic"
)

// Field names written on work items.
const (
	FieldPriority           = "Microsoft.VSTS.Common.Priority"
	FieldTags               = "System.Tags"
	FieldAcceptanceCriteria = "Microsoft.VSTS.Common.AcceptanceCriteria"
)

const (
	// MaxTitleLength is the tracker's title limit.
	MaxTitleLength = 255
	// MaxDescriptionLength bounds description text before escaping.
	MaxDescriptionLength = 3000

	defaultState  = "New"
	truncatedNote = "\n\n(truncated, full content in the source documents)"
)

// ParseTemplate maps a configured template name, case-insensitively. Unknown
// names fall back to Agile.
func ParseTemplate(name string) Template {
	for _, t := range []Template{TemplateAgile, TemplateScrum, TemplateCMMI, TemplateBasic} {
		if strings.EqualFold(strings.TrimSpace(name), string(t)) {
			return t
		}
	}
	return TemplateAgile
}

// TemplateFromTypes infers the process template from the work item type names
// a project exposes. ok is false when none of the marker types is present.
func TemplateFromTypes(typeNames []string) (Template, bool) {
	names := map[string]bool{}
	for _, n := range typeNames {
		names[n] = true
	}
	switch {
	case names["User Story"]:
		return TemplateAgile, true
	case names["Product Backlog Item"]:
		return TemplateScrum, true
	case names["Requirement"]:
		return TemplateCMMI, true
	case names["Issue"]:
		return TemplateBasic, true
	}
	return "", false
}

func (t Template) StoryType() string {
	switch t {
	case TemplateScrum:
		return "Product Backlog Item"
	case TemplateCMMI:
		return "Requirement"
	case TemplateBasic:
		return "Issue"
	}
	return "User Story"
}

// AcceptanceCriteriaField is empty for templates without the field.
func (t Template) AcceptanceCriteriaField() string {
	if t == TemplateBasic {
		return ""
	}
	return FieldAcceptanceCriteria
}

func (t Template) CompleteState() string {
	switch t {
	case TemplateAgile:
		return "Closed"
	case TemplateCMMI:
		return "Resolved"
	}
	return "Done"
}

// StateFor maps a tracked status to a work item state. Unknown statuses map
// to "".
func (t Template) StateFor(status string) string {
	pick := func(agile, scrum, cmmi, basic string) string {
		switch t {
		case TemplateScrum:
			return scrum
		case TemplateCMMI:
			return cmmi
		case TemplateBasic:
			return basic
		}
		return agile
	}
	switch models.Status(strings.TrimSpace(strings.ToLower(status))) {
	case models.StatusDraft:
		return pick("New", "New", "Proposed", "To Do")
	case models.StatusInProgress, models.StatusReview:
		return pick("Active", "Committed", "Active", "Doing")
	case models.StatusDone:
		return t.CompleteState()
	}
	return ""
}

// TruncateTitle shortens text to MaxTitleLength, ending in "...".
func TruncateTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxTitleLength {
		return text
	}
	return strings.TrimRight(string(runes[:MaxTitleLength-3]), " \t\r\n") + "..."
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// WrapHTML escapes text into a <div>, turning newlines into <br>. Text longer
// than maxLen runes (when maxLen > 0) is cut and marked as truncated.
func WrapHTML(text string, maxLen int) string {
	if text == "" {
		return ""
	}
	if runes := []rune(text); maxLen > 0 && len(runes) > maxLen {
		text = strings.TrimRight(string(runes[:maxLen]), " \t\r\n") + truncatedNote
	}
	escaped := textEscaper.Replace(text)
	return "<div>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</div>"
}

// TaskDescription renders the task description: the file reference for a
// review follow-up, or the acceptance criteria references and subtask
// checklist for a regular task.
func TaskDescription(t models.Task) string {
	if t.IsReviewFollowup {
		if t.FilePath == "" {
			return ""
		}
		return fmt.Sprintf("<div><b>File:</b> <code>%s</code></div>", textEscaper.Replace(t.FilePath))
	}
	var parts []string
	if len(t.ACReferences) > 0 {
		refs := make([]string, len(t.ACReferences))
		for i, n := range t.ACReferences {
			refs[i] = strconv.Itoa(n)
		}
		parts = append(parts, "<b>Acceptance Criteria:</b> "+strings.Join(refs, ", "))
	}
	if t.SubtaskHTML != "" {
		parts = append(parts, t.SubtaskHTML)
	}
	if len(parts) == 0 {
		return ""
	}
	return "<div>" + strings.Join(parts, "<br>") + "</div>"
}

// TaskFields returns the priority and tags fields of a task.
func TaskFields(t models.Task) []Field {
	var fields []Field
	if t.Priority > 0 {
		fields = append(fields, Field{Name: FieldPriority, Value: strconv.Itoa(t.Priority)})
	}
	if len(t.Tags) > 0 {
		fields = append(fields, Field{Name: FieldTags, Value: strings.Join(t.Tags, ";")})
	}
	return fields
}

// DefaultIteration is the iteration path new work items are filed under.
func DefaultIteration(project, root string) string {
	if root == "" {
		return ""
	}
	if project != "" && strings.HasPrefix(root, project+`\`) {
		return root
	}
	if project == "" {
		return root
	}
	return project + `\` + root
}

// IterationParentPath is the classification path new iteration nodes are
// created under.
func IterationParentPath(project, root string) string {
	if project == "" {
		return ""
	}
	if root != "" {
		return fmt.Sprintf(`\%s\Iteration\%s`, project, root)
	}
	return fmt.Sprintf(`\%s\Iteration`, project)
}

// IterationAssignPath is the path work items are moved to for an iteration.
func IterationAssignPath(project, root, slug string) string {
	if base := DefaultIteration(project, root); base != "" {
		return base + `\` + slug
	}
	if project != "" {
		return project + `\` + slug
	}
	return slug
}
