package state

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

// Grammar of the state document:
//
//	top-level key   ^\w...            (flushes the pending item, leaves the section)
//	section         ^(epics|stories|tasks|iterations):
//	id              ^  "id":          (exactly two spaces)
//	property        ^    key: value   (value optionally double quoted)
//
// Anything else is ignored.
var (
	sectionLineRe  = regexp.MustCompile(`^(epics|stories|tasks|iterations):\s*$`)
	topLevelLineRe = regexp.MustCompile(`^\w`)
	idLineRe       = regexp.MustCompile(`^  "?([^":]+)"?:\s*$`)
	propLineRe     = regexp.MustCompile(`^    (\w+):\s*"?([^"]*)"?\s*$`)
	lastSyncLineRe = regexp.MustCompile(`^lastFullSync:\s*"?([^"]*)"?\s*$`)
)

// Property keys used in the state document.
const (
	keyDevopsID      = "devopsId"
	keyContentHash   = "contentHash"
	keyLastSynced    = "lastSynced"
	keyStatus        = "status"
	keyEpicDevopsID  = "epicDevopsId"
	keyAttached      = "attached"
	keyStoryDevopsID = "storyDevopsId"
	keyEpicID        = "epicId"
	keyDevopsPath    = "devopsPath"
	keyPendingMoves  = "pendingMoves"
)

type decoder struct {
	state   *models.State
	section map[string]models.StateEntry
	id      string
	props   map[string]string
}

// Decode reads a state document. Unrecognized lines are skipped; only read
// errors are returned.
func Decode(r io.Reader) (*models.State, error) {
	d := &decoder{state: models.NewState()}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		d.line(strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	d.flush()
	return d.state, nil
}

// Load reads the state file at path. A missing file is an empty state.
func Load(path string) (*models.State, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.NewState(), nil
		}
		return nil, fmt.Errorf("open state %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

func (d *decoder) line(line string) {
	if m := sectionLineRe.FindStringSubmatch(line); m != nil {
		d.flush()
		d.section = d.state.Section(m[1])
		return
	}
	if topLevelLineRe.MatchString(line) {
		d.flush()
		d.section = nil
		if m := lastSyncLineRe.FindStringSubmatch(line); m != nil {
			d.state.LastFullSync = strings.TrimSpace(m[1])
		}
		return
	}
	if d.section == nil {
		return
	}
	// Go regexp has no lookahead, so the "exactly two spaces" rule is checked here.
	if len(line) > 2 && line[2] != ' ' {
		if m := idLineRe.FindStringSubmatch(line); m != nil {
			d.flush()
			d.id = strings.TrimSpace(m[1])
			d.props = map[string]string{}
			return
		}
	}
	if d.id == "" {
		return
	}
	if m := propLineRe.FindStringSubmatch(line); m != nil {
		d.props[m[1]] = strings.TrimSpace(m[2])
	}
}

func (d *decoder) flush() {
	if d.section != nil && d.id != "" && len(d.props) > 0 {
		d.section[d.id] = entryFromProps(d.props)
	}
	d.id = ""
	d.props = nil
}

// entryFromProps builds an entry from raw properties. Iteration blocks carry
// no status line; their status follows from whether an id is present.
func entryFromProps(props map[string]string) models.StateEntry {
	entry := models.StateEntry{
		ExternalID:      coerceID(props[keyDevopsID]),
		ContentHash:     props[keyContentHash],
		LastSynced:      props[keyLastSynced],
		Status:          props[keyStatus],
		EpicExternalID:  coerceID(props[keyEpicDevopsID]),
		Attached:        strings.EqualFold(props[keyAttached], "true"),
		StoryExternalID: coerceID(props[keyStoryDevopsID]),
		EpicID:          props[keyEpicID],
		Path:            props[keyDevopsPath],
		PendingMoves:    splitList(props[keyPendingMoves]),
	}
	if entry.Status == "" {
		entry.Status = models.EntrySynced
		if entry.ExternalID.IsZero() {
			entry.Status = models.EntryPending
		}
	}
	return entry
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// coerceID normalizes integer-looking ids ("007" -> "7") and clears null
// placeholders; anything else is kept as a trimmed string.
func coerceID(value string) models.ExternalID {
	id := models.ExternalID(strings.TrimSpace(value))
	if id.IsZero() {
		return ""
	}
	if n, ok := id.Int(); ok {
		return models.ExternalID(fmt.Sprint(n))
	}
	return id
}
