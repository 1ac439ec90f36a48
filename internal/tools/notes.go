package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/hcengineering/huly-ai-agent/internal/store"
)

// NoteService is the store surface the note tools use.
type NoteService interface {
	AddNote(ctx context.Context, content string) (int64, error)
	DeleteNote(ctx context.Context, id int64) error
	Notes(ctx context.Context) ([]store.Note, error)
}

type addNote struct {
	service NoteService
}

// NewAddNote constructs the tool that saves a working note.
func NewAddNote(service NoteService) Tool {
	return &addNote{service: service}
}

func (t *addNote) Definition() Definition {
	return Definition{
		Name:        "notes_add",
		Description: "Save a short working note. Notes persist across tasks and restarts.",
		Parameters: ParameterSchema{
			Type: "object",
			Properties: map[string]Property{
				"content": {Type: "string", Description: "Note text."},
			},
			Required: []string{"content"},
		},
	}
}

func (t *addNote) Execute(ctx context.Context, call Call) (*Result, error) {
	content, err := stringArg(call.Arguments, "content")
	if err != nil {
		return failure(call, err)
	}
	id, err := t.service.AddNote(ctx, content)
	if err != nil {
		return failure(call, err)
	}
	return success(call, "Note %d saved", id)
}

type deleteNote struct {
	service NoteService
}

// NewDeleteNote constructs the tool that removes a note.
func NewDeleteNote(service NoteService) Tool {
	return &deleteNote{service: service}
}

func (t *deleteNote) Definition() Definition {
	return Definition{
		Name:        "notes_delete",
		Description: "Delete a note by id.",
		Parameters: ParameterSchema{
			Type: "object",
			Properties: map[string]Property{
				"id": {Type: "integer", Description: "Note id."},
			},
			Required: []string{"id"},
		},
	}
}

func (t *deleteNote) Execute(ctx context.Context, call Call) (*Result, error) {
	id, err := intArg(call.Arguments, "id")
	if err != nil {
		return failure(call, err)
	}
	if err := t.service.DeleteNote(ctx, id); err != nil {
		return failure(call, err)
	}
	return success(call, "Note %d deleted", id)
}

type listNotes struct {
	service NoteService
}

// NewListNotes constructs the tool that lists saved notes.
func NewListNotes(service NoteService) Tool {
	return &listNotes{service: service}
}

func (t *listNotes) Definition() Definition {
	return Definition{
		Name:        "notes_list",
		Description: "List saved notes, oldest first.",
		Parameters:  ParameterSchema{Type: "object", Properties: map[string]Property{}},
	}
}

func (t *listNotes) Execute(ctx context.Context, call Call) (*Result, error) {
	notes, err := t.service.Notes(ctx)
	if err != nil {
		return failure(call, err)
	}
	if len(notes) == 0 {
		return success(call, "No notes")
	}
	var b strings.Builder
	for _, n := range notes {
		fmt.Fprintf(&b, "%d: %s\n", n.ID, n.Content)
	}
	return success(call, "%s", strings.TrimRight(b.String(), "\n"))
}
