package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/SystemCRM24/tendersync/internal/config"
	"github.com/SystemCRM24/tendersync/internal/directory"
	"github.com/SystemCRM24/tendersync/internal/model"
	"github.com/SystemCRM24/tendersync/pkg/amocrm"
)

// TaskAssigner routes a follow-up task to the correct owner: the lead's
// current owner, or the default coordinator when the lead sits with the
// "unsorted" sentinel user or has no owner at all.
type TaskAssigner struct {
	client amocrm.Client
	dir    *directory.Directory
	cfg    config.TaskConfig
	now    func() time.Time
}

// NewTaskAssigner creates an assigner. now may be nil, defaulting to time.Now.
func NewTaskAssigner(client amocrm.Client, dir *directory.Directory, cfg config.TaskConfig, now func() time.Time) *TaskAssigner {
	if now == nil {
		now = time.Now
	}
	return &TaskAssigner{client: client, dir: dir, cfg: cfg, now: now}
}

// Assign creates one follow-up task on the lead with deadline now+offset.
func (a *TaskAssigner) Assign(ctx context.Context, leadID, ownerID int64, rec model.PurchaseRecord) error {
	target := ownerID
	unsortedID, _ := a.dir.UserID(a.cfg.UnsortedUser)
	if target == 0 || (unsortedID != 0 && target == unsortedID) {
		coordinatorID, ok := a.dir.UserID(a.cfg.Coordinator)
		if !ok {
			return eris.Errorf("default coordinator %q not found in directory", a.cfg.Coordinator)
		}
		target = coordinatorID
	}

	req := amocrm.NewTask{
		ResponsibleUserID: target,
		EntityID:          leadID,
		EntityType:        amocrm.TaskEntityLead,
		Text:              fmt.Sprintf("%s: %s (закупка %s)", a.cfg.Text, rec.WinnerName, rec.PurchaseNumber),
		CompleteTill:      a.now().Add(a.cfg.Offset()).Unix(),
	}
	if typeID, ok := a.dir.TaskTypeID(a.cfg.TypeName); ok {
		req.TaskTypeID = typeID
	}

	task, err := a.client.CreateTask(ctx, req)
	if err != nil {
		return eris.Wrapf(err, "create task on lead %d", leadID)
	}
	zap.L().Info("follow-up task created",
		zap.Int64("task_id", task.ID),
		zap.Int64("lead_id", leadID),
		zap.Int64("assignee", target),
	)
	return nil
}
