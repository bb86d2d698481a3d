// Package directory maintains the session-scoped name→id cache of remote
// CRM catalog entities: pipelines with nested stages, users, custom fields
// per entity type, and task types.
package directory

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/SystemCRM24/tendersync/pkg/amocrm"
)

// Directory resolves human-readable catalog names to remote numeric ids.
// It is an explicit per-session object: construct one per run and pass it
// to every component that needs id resolution. Entries are populated once
// and never invalidated mid-run.
type Directory struct {
	loaded bool

	pipelines     map[string]int64
	stages        map[int64]map[string]int64
	users         map[string]int64
	leadFields    map[string]int64
	companyFields map[string]int64
	taskTypes     map[string]int64
}

// New returns an empty, unloaded Directory.
func New() *Directory {
	return &Directory{
		pipelines:     map[string]int64{},
		stages:        map[int64]map[string]int64{},
		users:         map[string]int64{},
		leadFields:    map[string]int64{},
		companyFields: map[string]int64{},
		taskTypes:     map[string]int64{},
	}
}

// Load populates the directory with five catalog sweeps. It is idempotent:
// a second call is a no-op. Unlike mid-run pagination, any failure here is
// fatal: every downstream decision depends on resolvable ids, so the
// caller must abort the run rather than proceed with an incomplete map.
func (d *Directory) Load(ctx context.Context, client amocrm.Client) error {
	if d.loaded {
		return nil
	}
	log := zap.L().Named("directory")

	pipelines, err := client.Pipelines(ctx)
	if err != nil {
		return eris.Wrap(err, "directory: load pipelines")
	}
	for _, p := range pipelines {
		d.pipelines[p.Name] = p.ID
		stages := make(map[string]int64, len(p.Statuses()))
		for _, s := range p.Statuses() {
			stages[s.Name] = s.ID
		}
		d.stages[p.ID] = stages
	}

	users, err := client.Users(ctx)
	if err != nil {
		return eris.Wrap(err, "directory: load users")
	}
	for _, u := range users {
		d.users[u.Name] = u.ID
	}

	leadFields, err := client.LeadFields(ctx)
	if err != nil {
		return eris.Wrap(err, "directory: load lead custom fields")
	}
	for _, f := range leadFields {
		d.leadFields[f.Name] = f.ID
	}

	companyFields, err := client.CompanyFields(ctx)
	if err != nil {
		return eris.Wrap(err, "directory: load company custom fields")
	}
	for _, f := range companyFields {
		d.companyFields[f.Name] = f.ID
	}

	taskTypes, err := client.TaskTypes(ctx)
	if err != nil {
		return eris.Wrap(err, "directory: load task types")
	}
	for _, t := range taskTypes {
		d.taskTypes[t.Name] = t.ID
	}

	d.loaded = true
	log.Info("catalog directory loaded",
		zap.Int("pipelines", len(d.pipelines)),
		zap.Int("users", len(d.users)),
		zap.Int("lead_fields", len(d.leadFields)),
		zap.Int("company_fields", len(d.companyFields)),
		zap.Int("task_types", len(d.taskTypes)),
	)
	return nil
}

// Loaded reports whether Load has completed successfully.
func (d *Directory) Loaded() bool {
	return d.loaded
}

// PipelineID resolves a pipeline by name.
func (d *Directory) PipelineID(name string) (int64, bool) {
	id, ok := d.pipelines[name]
	return id, ok
}

// StageID resolves a stage by name within a pipeline.
func (d *Directory) StageID(pipelineID int64, name string) (int64, bool) {
	stages, ok := d.stages[pipelineID]
	if !ok {
		return 0, false
	}
	id, ok := stages[name]
	return id, ok
}

// UserID resolves an account user by name.
func (d *Directory) UserID(name string) (int64, bool) {
	id, ok := d.users[name]
	return id, ok
}

// LeadFieldID resolves a lead custom field by name.
func (d *Directory) LeadFieldID(name string) (int64, bool) {
	id, ok := d.leadFields[name]
	return id, ok
}

// CompanyFieldID resolves a company custom field by name.
func (d *Directory) CompanyFieldID(name string) (int64, bool) {
	id, ok := d.companyFields[name]
	return id, ok
}

// TaskTypeID resolves a task type by name.
func (d *Directory) TaskTypeID(name string) (int64, bool) {
	id, ok := d.taskTypes[name]
	return id, ok
}

// Snapshot returns a serializable copy of every name→id map, for operator
// inspection.
func (d *Directory) Snapshot() Snapshot {
	snap := Snapshot{
		Pipelines:     copyMap(d.pipelines),
		Stages:        map[int64]map[string]int64{},
		Users:         copyMap(d.users),
		LeadFields:    copyMap(d.leadFields),
		CompanyFields: copyMap(d.companyFields),
		TaskTypes:     copyMap(d.taskTypes),
	}
	for pid, stages := range d.stages {
		snap.Stages[pid] = copyMap(stages)
	}
	return snap
}

// Snapshot is a read-only dump of the directory contents.
type Snapshot struct {
	Pipelines     map[string]int64           `yaml:"pipelines"`
	Stages        map[int64]map[string]int64 `yaml:"stages"`
	Users         map[string]int64           `yaml:"users"`
	LeadFields    map[string]int64           `yaml:"lead_fields"`
	CompanyFields map[string]int64           `yaml:"company_fields"`
	TaskTypes     map[string]int64           `yaml:"task_types"`
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
