package amocrm

import (
	"context"
)

// Pipelines lists all sales funnels with their nested stages.
func (c *httpClient) Pipelines(ctx context.Context) ([]Pipeline, error) {
	return collectPages[Pipeline](ctx, c, "/leads/pipelines", "pipelines", nil)
}

// Users lists all account users.
func (c *httpClient) Users(ctx context.Context) ([]User, error) {
	return collectPages[User](ctx, c, "/users", "users", nil)
}

// LeadFields lists the custom field definitions of the lead entity type.
func (c *httpClient) LeadFields(ctx context.Context) ([]CustomField, error) {
	return collectPages[CustomField](ctx, c, "/leads/custom_fields", "custom_fields", nil)
}

// CompanyFields lists the custom field definitions of the company entity type.
func (c *httpClient) CompanyFields(ctx context.Context) ([]CustomField, error) {
	return collectPages[CustomField](ctx, c, "/companies/custom_fields", "custom_fields", nil)
}

// TaskTypes lists the follow-up task categories.
func (c *httpClient) TaskTypes(ctx context.Context) ([]TaskType, error) {
	return collectPages[TaskType](ctx, c, "/tasks/types", "task_types", nil)
}
