package amocrm

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"
)

// commonNoteType is the plain-text note kind used for win annotations.
const commonNoteType = "common"

// LeadNotes lists the plain-text notes of a lead in arrival order.
func (c *httpClient) LeadNotes(ctx context.Context, leadID int64) ([]Note, error) {
	q := url.Values{}
	q.Set("filter[note_type]", commonNoteType)
	return collectPages[Note](ctx, c, fmt.Sprintf("/leads/%d/notes", leadID), "notes", q)
}

// AddLeadNote appends a plain-text note to a lead. Notes are immutable
// once written; dedup is the caller's responsibility.
func (c *httpClient) AddLeadNote(ctx context.Context, leadID int64, text string) (*Note, error) {
	req := NewNote{NoteType: commonNoteType, Params: NoteParams{Text: text}}
	raw, err := c.request(ctx, "POST", fmt.Sprintf("/leads/%d/notes", leadID), []NewNote{req}, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "amocrm: add note to lead %d", leadID)
	}
	note, err := firstEmbedded[Note](raw, "notes")
	if err != nil {
		return nil, eris.Wrapf(err, "amocrm: decode created note on lead %d", leadID)
	}
	return note, nil
}
