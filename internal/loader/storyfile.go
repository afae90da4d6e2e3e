package loader

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

var (
	statusLineRe   = regexp.MustCompile(`(?i)^\*?\*?Status:\*?\*?\s*(.+)$`)
	tasksHeaderRe  = regexp.MustCompile(`(?i)^#{2,6}\s+Tasks\s*/?\s*Subtasks`)
	tasksHeadingRe = regexp.MustCompile(`(?i)^#{2,6}\s+Tasks`)
	reviewHeaderRe = regexp.MustCompile(`(?i)^(#{1,6})\s+Review Follow-ups(?:\s+Round\s+(\d+))?\s*\(AI\)\s*$`)
	taskLineRe     = regexp.MustCompile(`^- \[([ xX])\]\s*(.+)$`)
	subtaskLineRe  = regexp.MustCompile(`^\s{2,}- \[([ xX])\]\s*(.+)$`)
)

// sectionState is the position of the story file scanner.
type sectionState int

const (
	stateOutside sectionState = iota
	stateInTasks
	stateInReview
)

// StoryFile is everything extracted from one per-story file.
type StoryFile struct {
	StoryID     string
	Status      string
	Tasks       []models.Task
	ReviewTasks []models.Task
}

type storyFileScanner struct {
	storyID string
	state   sectionState

	tasksDone bool
	taskNum   int

	round       int
	reviewDepth int
	reviewNum   int

	out StoryFile
}

// ParseStoryFile extracts status, checklist tasks and review follow-ups.
// Only the first Tasks / Subtasks section is read.
func ParseStoryFile(storyID, content string) StoryFile {
	s := &storyFileScanner{storyID: storyID, out: StoryFile{StoryID: storyID}}
	lines := splitLines(content)
	for _, line := range lines {
		if s.out.Status == "" {
			if m := statusLineRe.FindStringSubmatch(line); m != nil {
				s.out.Status = strings.ToLower(strings.TrimSpace(m[1]))
			}
		}
		s.step(line)
	}
	for i := range s.out.Tasks {
		task := &s.out.Tasks[i]
		task.ACReferences = ExtractACReferences(task.Description)
		task.SubtaskHTML = BuildSubtaskHTML(task.Subtasks)
	}
	return s.out
}

func (s *storyFileScanner) step(line string) {
	if m := reviewHeaderRe.FindStringSubmatch(line); m != nil {
		if s.state == stateInTasks {
			s.tasksDone = true
		}
		s.enterReview(len(m[1]), m[2])
		return
	}

	switch s.state {
	case stateOutside:
		if !s.tasksDone && tasksHeaderRe.MatchString(line) {
			s.state = stateInTasks
		}
	case stateInTasks:
		if headingDepth(line) >= 2 && !tasksHeadingRe.MatchString(line) {
			s.tasksDone = true
			s.state = stateOutside
			return
		}
		s.taskLine(line)
	case stateInReview:
		if d := headingDepth(line); d > 0 && d <= s.reviewDepth {
			s.state = stateOutside
			s.step(line)
			return
		}
		s.reviewLine(line)
	}
}

func (s *storyFileScanner) enterReview(depth int, round string) {
	s.state = stateInReview
	s.reviewDepth = depth
	s.reviewNum = 0
	s.round = 1
	if round != "" {
		if n, err := strconv.Atoi(round); err == nil {
			s.round = n
		}
	}
}

func (s *storyFileScanner) taskLine(line string) {
	if m := taskLineRe.FindStringSubmatch(line); m != nil {
		s.taskNum++
		s.out.Tasks = append(s.out.Tasks, models.Task{
			ID:          fmt.Sprintf("%s-T%d", s.storyID, s.taskNum),
			StoryID:     s.storyID,
			Description: strings.TrimSpace(m[2]),
			Complete:    isChecked(m[1]),
			Subtasks:    []models.Subtask{},
		})
		return
	}
	if m := subtaskLineRe.FindStringSubmatch(line); m != nil && len(s.out.Tasks) > 0 {
		last := &s.out.Tasks[len(s.out.Tasks)-1]
		last.Subtasks = append(last.Subtasks, models.Subtask{
			ID:          fmt.Sprintf("%s-T%d.%d", s.storyID, s.taskNum, len(last.Subtasks)+1),
			Description: strings.TrimSpace(m[2]),
			Complete:    isChecked(m[1]),
		})
	}
}

func (s *storyFileScanner) reviewLine(line string) {
	m := taskLineRe.FindStringSubmatch(line)
	if m == nil {
		return
	}
	s.reviewNum++
	desc := strings.TrimSpace(m[2])
	meta := ExtractReviewMetadata(desc)
	s.out.ReviewTasks = append(s.out.ReviewTasks, models.Task{
		ID:               fmt.Sprintf("%s-R%d.%d", s.storyID, s.round, s.reviewNum),
		StoryID:          s.storyID,
		Description:      desc,
		Complete:         isChecked(m[1]),
		Subtasks:         []models.Subtask{},
		IsReviewFollowup: true,
		ReviewRound:      s.round,
		Priority:         meta.Priority,
		FilePath:         meta.FilePath,
		Tags:             meta.Tags,
		CleanTitle:       meta.CleanTitle,
	})
}

func isChecked(mark string) bool {
	return strings.EqualFold(mark, "x")
}
