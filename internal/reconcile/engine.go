// Package reconcile implements the stateless decision engine that matches
// purchase-win records against CRM leads, companies, notes, and tasks.
// Every decision is recomputed fresh from remote-query results on every
// run; a pass can be interrupted and re-run without corrupting CRM state.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/SystemCRM24/tendersync/internal/config"
	"github.com/SystemCRM24/tendersync/internal/directory"
	"github.com/SystemCRM24/tendersync/internal/model"
	"github.com/SystemCRM24/tendersync/pkg/amocrm"
)

// Summary tallies the outcome of one reconciliation pass.
type Summary struct {
	Processed    int
	Skipped      int
	LeadsCreated int
	LeadsUpdated int
	NotesAdded   int
	Tasks        int
	Failed       int
}

// Engine reconciles purchase records against the CRM, strictly
// sequentially: search → resolve company → create/update lead → note →
// task, one record at a time.
type Engine struct {
	client    amocrm.Client
	dir       *directory.Directory
	cfg       *config.Config
	companies *CompanyResolver
	tasks     *TaskAssigner
	now       func() time.Time
}

// NewEngine wires the engine from its collaborators. now may be nil,
// defaulting to time.Now.
func NewEngine(client amocrm.Client, dir *directory.Directory, cfg *config.Config, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		client:    client,
		dir:       dir,
		cfg:       cfg,
		companies: NewCompanyResolver(client, dir, cfg.Sync.CompanyTaxField),
		tasks:     NewTaskAssigner(client, dir, cfg.Task, now),
		now:       now,
	}
}

// batchIDs holds the per-batch resolved directory ids.
type batchIDs struct {
	pipelineID int64
	stageID    int64
	excluded   map[int64]bool
}

// ProcessBatch runs one reconciliation pass over the records in order.
// Per-record failures are isolated: the loop continues. The returned
// error is non-nil only for failures that invalidate the whole pass
// (unresolvable pipeline/stage, credential rejection, cancellation).
func (e *Engine) ProcessBatch(ctx context.Context, records []model.PurchaseRecord) (Summary, error) {
	var sum Summary

	ids, err := e.resolveBatchIDs()
	if err != nil {
		return sum, err
	}

	log := zap.L().Named("reconcile")
	log.Info("reconciliation pass started",
		zap.Int("records", len(records)),
		zap.Int64("pipeline_id", ids.pipelineID),
		zap.Int64("stage_id", ids.stageID),
	)

	for _, rec := range records {
		if ctx.Err() != nil {
			return sum, eris.Wrap(ctx.Err(), "reconcile: pass cancelled")
		}

		outcome, err := e.processRecord(ctx, rec, ids)
		switch {
		case err == nil:
			sum.add(outcome)
		case amocrm.IsAuth(err):
			// Credential failures poison every remaining call.
			return sum, eris.Wrapf(err, "reconcile: record %s", rec.Key())
		case amocrm.IsValidation(err):
			sum.Failed++
			log.Warn("record rejected by CRM validation, skipping",
				zap.String("purchase", rec.Key()),
				zap.String("winner", rec.WinnerName),
				zap.Error(err),
			)
		default:
			sum.Failed++
			log.Error("record failed, continuing",
				zap.String("purchase", rec.Key()),
				zap.String("winner", rec.WinnerName),
				zap.Error(err),
			)
		}
	}

	log.Info("reconciliation pass finished",
		zap.Int("processed", sum.Processed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("leads_created", sum.LeadsCreated),
		zap.Int("leads_updated", sum.LeadsUpdated),
		zap.Int("notes_added", sum.NotesAdded),
		zap.Int("tasks", sum.Tasks),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

func (e *Engine) resolveBatchIDs() (batchIDs, error) {
	var ids batchIDs
	var ok bool

	ids.pipelineID, ok = e.dir.PipelineID(e.cfg.Sync.PipelineName)
	if !ok {
		return ids, eris.Errorf("reconcile: pipeline %q not found in directory", e.cfg.Sync.PipelineName)
	}
	ids.stageID, ok = e.dir.StageID(ids.pipelineID, e.cfg.Sync.StageName)
	if !ok {
		return ids, eris.Errorf("reconcile: stage %q not found in pipeline %q",
			e.cfg.Sync.StageName, e.cfg.Sync.PipelineName)
	}

	ids.excluded = make(map[int64]bool, len(e.cfg.Sync.ExcludedOwners))
	for _, name := range e.cfg.Sync.ExcludedOwners {
		id, ok := e.dir.UserID(name)
		if !ok {
			zap.L().Warn("excluded owner not found in directory", zap.String("user", name))
			continue
		}
		ids.excluded[id] = true
	}
	return ids, nil
}

// recordOutcome captures what one record actually changed.
type recordOutcome struct {
	skipped     bool
	leadCreated bool
	leadUpdated bool
	noteAdded   bool
	taskCreated bool
}

func (s *Summary) add(o recordOutcome) {
	if o.skipped {
		s.Skipped++
		return
	}
	s.Processed++
	if o.leadCreated {
		s.LeadsCreated++
	}
	if o.leadUpdated {
		s.LeadsUpdated++
	}
	if o.noteAdded {
		s.NotesAdded++
	}
	if o.taskCreated {
		s.Tasks++
	}
}

func (e *Engine) processRecord(ctx context.Context, rec model.PurchaseRecord, ids batchIDs) (recordOutcome, error) {
	var out recordOutcome
	log := zap.L().Named("reconcile").With(
		zap.String("purchase", rec.Key()),
		zap.String("winner", rec.WinnerName),
	)

	// Pre-filters: no remote call may happen for filtered records.
	budget, hasBudget := rec.Budget()
	if !hasBudget || budget < e.cfg.Sync.MinBudget {
		log.Debug("skipping record below minimum budget",
			zap.Float64("budget", budget),
			zap.Float64("minimum", e.cfg.Sync.MinBudget),
		)
		out.skipped = true
		return out, nil
	}
	name := strings.TrimSpace(rec.WinnerName)
	if name == "" {
		log.Warn("skipping record without winner name")
		out.skipped = true
		return out, nil
	}

	lead, err := e.matchLead(ctx, name, ids)
	if err != nil {
		// A truncated or failed search must not trigger a create: a lead
		// that exists but was not listed would be duplicated. Leave the
		// record for the next pass.
		return out, err
	}

	company, err := e.companies.CreateOrGet(ctx, name, rec.TaxID)
	if err != nil {
		return out, err
	}

	recencyFresh := false
	if lead == nil {
		lead, err = e.createLead(ctx, rec, name, budget, ids, company)
		if err != nil {
			return out, err
		}
		out.leadCreated = true
		recencyFresh = true // creation timestamps are current by definition
		log.Info("lead created", zap.Int64("lead_id", lead.ID), zap.Int64("price", lead.Price))
	} else {
		log.Info("lead matched", zap.Int64("lead_id", lead.ID), zap.Int64("price", lead.Price))
		updated, err := e.applyBudgetPolicy(ctx, lead, budget)
		if err != nil {
			return out, err
		}
		if updated {
			out.leadUpdated = true
			recencyFresh = true
		}
	}

	noteAdded, err := e.syncNote(ctx, lead.ID, rec, log)
	if err != nil {
		return out, err
	}
	out.noteAdded = noteAdded

	// Recency touch when a note landed but the price step did not
	// already refresh updated_at. At most one recency write per pass.
	if noteAdded && !recencyFresh {
		patch := amocrm.LeadPatch{UpdatedAt: e.now().UTC().Unix()}
		if _, err := e.client.UpdateLead(ctx, lead.ID, patch); err != nil {
			if amocrm.IsAuth(err) {
				return out, err
			}
			log.Warn("recency touch failed", zap.Int64("lead_id", lead.ID), zap.Error(err))
		}
	}

	if e.cfg.Task.EveryPass || out.leadCreated || noteAdded {
		if err := e.tasks.Assign(ctx, lead.ID, lead.ResponsibleUserID, rec); err != nil {
			if amocrm.IsAuth(err) {
				return out, err
			}
			// Non-fatal to the record.
			log.Warn("task creation failed", zap.Int64("lead_id", lead.ID), zap.Error(err))
		} else {
			out.taskCreated = true
		}
	}

	return out, nil
}

// matchLead searches the target pipeline for a lead whose name equals the
// winner name (case-insensitive, trimmed), excluding leads owned by the
// configured exclusion list. The free-text search is approximate; the
// exact comparison happens here.
func (e *Engine) matchLead(ctx context.Context, name string, ids batchIDs) (*amocrm.Lead, error) {
	leads, err := e.client.SearchLeads(ctx, name, ids.pipelineID)
	if err != nil {
		return nil, eris.Wrapf(err, "search leads for %q", name)
	}

	want := strings.ToLower(name)
	for i := range leads {
		if strings.ToLower(strings.TrimSpace(leads[i].Name)) != want {
			continue
		}
		if ids.excluded[leads[i].ResponsibleUserID] {
			continue
		}
		return &leads[i], nil
	}
	return nil, nil
}

func (e *Engine) createLead(ctx context.Context, rec model.PurchaseRecord, name string, budget float64, ids batchIDs, company *amocrm.Company) (*amocrm.Lead, error) {
	req := amocrm.NewLead{
		Name:       name,
		Price:      int64(budget),
		PipelineID: ids.pipelineID,
		StatusID:   ids.stageID,
	}

	// Custom fields go in only when the directory resolves their ids; an
	// unresolved id in the payload is a guaranteed validation reject.
	if taxID := strings.TrimSpace(rec.TaxID); taxID != "" {
		if fieldID, ok := e.dir.LeadFieldID(e.cfg.Sync.LeadTaxField); ok {
			req.CustomFields = append(req.CustomFields, amocrm.FieldValues{
				FieldID: fieldID,
				Values:  []amocrm.FieldValue{{Value: taxID}},
			})
		}
	}
	if link := rec.PurchaseLink(); link != "" {
		if fieldID, ok := e.dir.LeadFieldID(e.cfg.Sync.LeadLinkField); ok {
			req.CustomFields = append(req.CustomFields, amocrm.FieldValues{
				FieldID: fieldID,
				Values:  []amocrm.FieldValue{{Value: link}},
			})
		}
	}
	if company != nil {
		req.Embedded = &amocrm.LeadEmbedded{Companies: []amocrm.EntityRef{{ID: company.ID}}}
	}

	lead, err := e.client.CreateLead(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "create lead %q", name)
	}
	// The batch-create response omits most fields; carry over what the
	// rest of the pass relies on.
	if lead.Price == 0 {
		lead.Price = req.Price
	}
	return lead, nil
}

// applyBudgetPolicy issues at most one price update: only when the
// incoming budget is nonzero and differs from the stored price. A zero
// incoming budget means "no information": the stored price is never
// erased by a sparse spreadsheet row.
func (e *Engine) applyBudgetPolicy(ctx context.Context, lead *amocrm.Lead, budget float64) (bool, error) {
	if budget == 0 {
		return false, nil
	}
	price := int64(budget)
	if price == lead.Price {
		return false, nil
	}

	patch := amocrm.LeadPatch{
		Price:     &price,
		UpdatedAt: e.now().UTC().Unix(),
	}
	if _, err := e.client.UpdateLead(ctx, lead.ID, patch); err != nil {
		return false, eris.Wrapf(err, "update price of lead %d", lead.ID)
	}
	zap.L().Info("lead price updated",
		zap.Int64("lead_id", lead.ID),
		zap.Int64("old_price", lead.Price),
		zap.Int64("new_price", price),
	)
	lead.Price = price
	return true, nil
}

// syncNote appends the record's annotation unless a byte-identical note
// already exists on the lead. Prior annotations are never edited or
// deleted. When the existing-notes listing is truncated by an error the
// append is withheld: a duplicate missed in the unseen pages would
// violate idempotency, and the next pass will retry from scratch.
func (e *Engine) syncNote(ctx context.Context, leadID int64, rec model.PurchaseRecord, log *zap.Logger) (bool, error) {
	text := RenderNote(rec)

	existing, err := e.client.LeadNotes(ctx, leadID)
	if err != nil {
		if amocrm.IsAuth(err) {
			return false, err
		}
		log.Warn("note listing degraded, withholding append this pass",
			zap.Int64("lead_id", leadID),
			zap.Int("seen", len(existing)),
			zap.Error(err),
		)
		return false, nil
	}
	for _, n := range existing {
		if n.Params.Text == text {
			log.Debug("identical annotation already present", zap.Int64("note_id", n.ID))
			return false, nil
		}
	}

	note, err := e.client.AddLeadNote(ctx, leadID, text)
	if err != nil {
		return false, eris.Wrapf(err, "append note to lead %d", leadID)
	}
	log.Info("annotation appended", zap.Int64("note_id", note.ID), zap.Int64("lead_id", leadID))
	return true, nil
}
