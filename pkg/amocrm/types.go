package amocrm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// listEnvelope is the common shape of amoCRM list responses:
// entities under _embedded keyed by endpoint, pagination via _links.next.
type listEnvelope struct {
	Links    envelopeLinks              `json:"_links"`
	Embedded map[string]json.RawMessage `json:"_embedded"`
}

type envelopeLinks struct {
	Next *envelopeLink `json:"next"`
}

type envelopeLink struct {
	Href string `json:"href"`
}

// Pipeline is a sales funnel with its nested stages.
type Pipeline struct {
	ID       int64            `json:"id"`
	Name     string           `json:"name"`
	Embedded PipelineEmbedded `json:"_embedded"`
}

// PipelineEmbedded holds the stages nested inside a pipeline response.
type PipelineEmbedded struct {
	Statuses []Status `json:"statuses"`
}

// Statuses returns the pipeline's stages in catalog order.
func (p Pipeline) Statuses() []Status {
	return p.Embedded.Statuses
}

// Status is one stage within a pipeline.
type Status struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// User is a CRM account user.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// CustomField describes a custom field definition for an entity type.
type CustomField struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// TaskType is a named follow-up task category.
type TaskType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// FieldValues carries the values set on one custom field of an entity.
type FieldValues struct {
	FieldID int64        `json:"field_id"`
	Values  []FieldValue `json:"values"`
}

// FieldValue is a single value entry; the remote API returns strings or
// numbers depending on field type.
type FieldValue struct {
	Value any `json:"value"`
}

// String renders the value as text regardless of its wire type.
func (v FieldValue) String() string {
	switch val := v.Value.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Company is a CRM company entity.
type Company struct {
	ID                int64         `json:"id"`
	Name              string        `json:"name"`
	ResponsibleUserID int64         `json:"responsible_user_id,omitempty"`
	CustomFields      []FieldValues `json:"custom_fields_values,omitempty"`
}

// FieldValue returns the first value of the given custom field, trimmed.
func (c Company) FieldValue(fieldID int64) (string, bool) {
	for _, fv := range c.CustomFields {
		if fv.FieldID != fieldID {
			continue
		}
		for _, v := range fv.Values {
			return strings.TrimSpace(v.String()), true
		}
	}
	return "", false
}

// NewCompany is the create-company request body (sent as a one-element array).
type NewCompany struct {
	Name         string        `json:"name"`
	CustomFields []FieldValues `json:"custom_fields_values,omitempty"`
}

// Lead is a CRM deal/opportunity.
type Lead struct {
	ID                int64         `json:"id"`
	Name              string        `json:"name"`
	Price             int64         `json:"price"`
	ResponsibleUserID int64         `json:"responsible_user_id,omitempty"`
	PipelineID        int64         `json:"pipeline_id,omitempty"`
	StatusID          int64         `json:"status_id,omitempty"`
	UpdatedAt         int64         `json:"updated_at,omitempty"`
	CustomFields      []FieldValues `json:"custom_fields_values,omitempty"`
	Embedded          *LeadEmbedded `json:"_embedded,omitempty"`
}

// CompanyID returns the linked company id, or 0 when none is linked.
func (l Lead) CompanyID() int64 {
	if l.Embedded == nil || len(l.Embedded.Companies) == 0 {
		return 0
	}
	return l.Embedded.Companies[0].ID
}

// LeadEmbedded holds cross-entity links of a lead.
type LeadEmbedded struct {
	Companies []EntityRef `json:"companies,omitempty"`
}

// EntityRef links to another entity by opaque numeric id.
type EntityRef struct {
	ID int64 `json:"id"`
}

// NewLead is the create-lead request body (sent as a one-element array).
type NewLead struct {
	Name              string        `json:"name"`
	Price             int64         `json:"price"`
	PipelineID        int64         `json:"pipeline_id"`
	StatusID          int64         `json:"status_id"`
	ResponsibleUserID int64         `json:"responsible_user_id,omitempty"`
	CustomFields      []FieldValues `json:"custom_fields_values,omitempty"`
	Embedded          *LeadEmbedded `json:"_embedded,omitempty"`
}

// LeadPatch is the patch-by-id request body for a lead. Zero-valued fields
// are omitted so a patch never clobbers data it does not carry.
type LeadPatch struct {
	Price     *int64 `json:"price,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// Note is an append-only annotation on a lead.
type Note struct {
	ID       int64      `json:"id"`
	NoteType string     `json:"note_type"`
	Params   NoteParams `json:"params"`
}

// NoteParams holds the note payload.
type NoteParams struct {
	Text string `json:"text"`
}

// NewNote is the add-note request body (sent as a one-element array).
type NewNote struct {
	NoteType string     `json:"note_type"`
	Params   NoteParams `json:"params"`
}

// Task is an ephemeral follow-up item attached to a lead.
type Task struct {
	ID                int64  `json:"id"`
	ResponsibleUserID int64  `json:"responsible_user_id"`
	EntityID          int64  `json:"entity_id"`
	EntityType        string `json:"entity_type"`
	Text              string `json:"text"`
	CompleteTill      int64  `json:"complete_till"`
	TaskTypeID        int64  `json:"task_type_id,omitempty"`
}

// NewTask is the create-task request body (sent as a one-element array).
type NewTask struct {
	ResponsibleUserID int64  `json:"responsible_user_id"`
	EntityID          int64  `json:"entity_id"`
	EntityType        string `json:"entity_type"`
	Text              string `json:"text"`
	CompleteTill      int64  `json:"complete_till"`
	TaskTypeID        int64  `json:"task_type_id,omitempty"`
}
