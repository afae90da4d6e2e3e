package executor

import (
	"context"
	"fmt"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

// Field is a named work item field value.
type Field struct {
	Name  string
	Value string
}

// WorkItem carries the values written on create or update. Empty values are
// left untouched on update.
type WorkItem struct {
	Type          string
	Title         string
	Description   string
	State         string
	AreaPath      string
	IterationPath string
	Fields        []Field
}

// Collaborator is the remote work item tracker.
type Collaborator interface {
	Create(ctx context.Context, item WorkItem) (models.ExternalID, error)
	Update(ctx context.Context, id models.ExternalID, item WorkItem) error
	// Link makes child a child of parent.
	Link(ctx context.Context, child, parent models.ExternalID) error
	CreateIteration(ctx context.Context, name, parentPath string) (models.ExternalID, error)
	Move(ctx context.Context, id models.ExternalID, iterationPath string) error
	UploadAttachment(ctx context.Context, data []byte, filename string) (string, error)
	AttachRelation(ctx context.Context, id models.ExternalID, url, comment string) error
}

// ItemError is a failed operation on one entity.
type ItemError struct {
	Type string
	ID   string
	Op   string
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Type, e.ID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
