package amocrm

import (
	"context"

	"github.com/rotisserie/eris"
)

// TaskEntityLead is the entity_type value linking a task to a lead.
const TaskEntityLead = "leads"

// CreateTask creates one follow-up task via the batch endpoint.
func (c *httpClient) CreateTask(ctx context.Context, req NewTask) (*Task, error) {
	raw, err := c.request(ctx, "POST", "/tasks", []NewTask{req}, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "amocrm: create task for %s %d", req.EntityType, req.EntityID)
	}
	task, err := firstEmbedded[Task](raw, "tasks")
	if err != nil {
		return nil, eris.Wrapf(err, "amocrm: decode created task for %s %d", req.EntityType, req.EntityID)
	}
	return task, nil
}
