package reconcile

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SystemCRM24/tendersync/internal/config"
	"github.com/SystemCRM24/tendersync/internal/directory"
	"github.com/SystemCRM24/tendersync/internal/model"
	"github.com/SystemCRM24/tendersync/pkg/amocrm"
)

// mockCRM is an in-memory CRM: catalog fixtures plus mutable companies,
// leads, notes, and tasks. Error fields inject failures per method.
type mockCRM struct {
	mu sync.Mutex

	companies []amocrm.Company
	leads     []amocrm.Lead
	notes     map[int64][]amocrm.Note
	tasks     []amocrm.NewTask
	nextID    int64

	searchLeadsErr     error
	searchCompaniesErr error
	leadNotesErr       error

	calls map[string]int
}

func newMockCRM() *mockCRM {
	return &mockCRM{
		notes:  map[int64][]amocrm.Note{},
		nextID: 1000,
		calls:  map[string]int{},
	}
}

func (m *mockCRM) count(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
}

func (m *mockCRM) id() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

func (m *mockCRM) Pipelines(ctx context.Context) ([]amocrm.Pipeline, error) {
	m.count("Pipelines")
	return []amocrm.Pipeline{
		{
			ID:   10,
			Name: "Гос.заказ - прогрев клиента",
			Embedded: amocrm.PipelineEmbedded{Statuses: []amocrm.Status{
				{ID: 100, Name: "Победители"},
			}},
		},
	}, nil
}

func (m *mockCRM) Users(ctx context.Context) ([]amocrm.User, error) {
	m.count("Users")
	return []amocrm.User{
		{ID: 1, Name: "Координатор"},
		{ID: 2, Name: "НЕРАЗОБРАННЫЕ ЗАЯВКИ"},
		{ID: 3, Name: "Менеджер Иванова"},
		{ID: 4, Name: "Уволенный"},
	}, nil
}

func (m *mockCRM) LeadFields(ctx context.Context) ([]amocrm.CustomField, error) {
	m.count("LeadFields")
	return []amocrm.CustomField{
		{ID: 301, Name: "ИНН"},
		{ID: 302, Name: "Ссылка на закупку"},
	}, nil
}

func (m *mockCRM) CompanyFields(ctx context.Context) ([]amocrm.CustomField, error) {
	m.count("CompanyFields")
	return []amocrm.CustomField{{ID: 401, Name: "ИНН"}}, nil
}

func (m *mockCRM) TaskTypes(ctx context.Context) ([]amocrm.TaskType, error) {
	m.count("TaskTypes")
	return []amocrm.TaskType{{ID: 501, Name: "Связаться с клиентом"}}, nil
}

func (m *mockCRM) SearchCompanies(ctx context.Context, query string) ([]amocrm.Company, error) {
	m.count("SearchCompanies")
	if m.searchCompaniesErr != nil {
		return nil, m.searchCompaniesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]amocrm.Company(nil), m.companies...), nil
}

func (m *mockCRM) CreateCompany(ctx context.Context, req amocrm.NewCompany) (*amocrm.Company, error) {
	m.count("CreateCompany")
	company := amocrm.Company{ID: m.id(), Name: req.Name, CustomFields: req.CustomFields}
	m.mu.Lock()
	m.companies = append(m.companies, company)
	m.mu.Unlock()
	return &company, nil
}

func (m *mockCRM) SearchLeads(ctx context.Context, query string, pipelineID int64) ([]amocrm.Lead, error) {
	m.count("SearchLeads")
	if m.searchLeadsErr != nil {
		return nil, m.searchLeadsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []amocrm.Lead
	for _, l := range m.leads {
		if l.PipelineID == pipelineID && strings.Contains(strings.ToLower(l.Name), strings.ToLower(query)) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockCRM) CreateLead(ctx context.Context, req amocrm.NewLead) (*amocrm.Lead, error) {
	m.count("CreateLead")
	lead := amocrm.Lead{
		ID:           m.id(),
		Name:         req.Name,
		Price:        req.Price,
		PipelineID:   req.PipelineID,
		StatusID:     req.StatusID,
		CustomFields: req.CustomFields,
		Embedded:     req.Embedded,
	}
	m.mu.Lock()
	m.leads = append(m.leads, lead)
	m.mu.Unlock()
	return &lead, nil
}

func (m *mockCRM) UpdateLead(ctx context.Context, id int64, patch amocrm.LeadPatch) (*amocrm.Lead, error) {
	if patch.Price != nil {
		m.count("UpdateLead:price")
	} else {
		m.count("UpdateLead:touch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.leads {
		if m.leads[i].ID != id {
			continue
		}
		if patch.Price != nil {
			m.leads[i].Price = *patch.Price
		}
		m.leads[i].UpdatedAt = patch.UpdatedAt
		lead := m.leads[i]
		return &lead, nil
	}
	return nil, eris.Errorf("lead %d not found", id)
}

func (m *mockCRM) LeadNotes(ctx context.Context, leadID int64) ([]amocrm.Note, error) {
	m.count("LeadNotes")
	if m.leadNotesErr != nil {
		return nil, m.leadNotesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]amocrm.Note(nil), m.notes[leadID]...), nil
}

func (m *mockCRM) AddLeadNote(ctx context.Context, leadID int64, text string) (*amocrm.Note, error) {
	m.count("AddLeadNote")
	note := amocrm.Note{ID: m.id(), NoteType: "common", Params: amocrm.NoteParams{Text: text}}
	m.mu.Lock()
	m.notes[leadID] = append(m.notes[leadID], note)
	m.mu.Unlock()
	return &note, nil
}

func (m *mockCRM) CreateTask(ctx context.Context, req amocrm.NewTask) (*amocrm.Task, error) {
	m.count("CreateTask")
	m.mu.Lock()
	m.tasks = append(m.tasks, req)
	m.mu.Unlock()
	return &amocrm.Task{ID: m.id(), ResponsibleUserID: req.ResponsibleUserID, EntityID: req.EntityID}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Sync: config.SyncConfig{
			PipelineName:    "Гос.заказ - прогрев клиента",
			StageName:       "Победители",
			MinBudget:       100_000,
			LeadTaxField:    "ИНН",
			LeadLinkField:   "Ссылка на закупку",
			CompanyTaxField: "ИНН",
		},
		Task: config.TaskConfig{
			Text:          "Пришло обновление из базы победителей",
			TypeName:      "Связаться с клиентом",
			OffsetMinutes: 10,
			UnsortedUser:  "НЕРАЗОБРАННЫЕ ЗАЯВКИ",
			Coordinator:   "Координатор",
			EveryPass:     true,
		},
	}
}

func newTestEngine(t *testing.T, crm *mockCRM, cfg *config.Config) *Engine {
	t.Helper()
	dir := directory.New()
	require.NoError(t, dir.Load(context.Background(), crm))
	fixedNow := func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }
	return NewEngine(crm, dir, cfg, fixedNow)
}

func money(v float64) *float64 { return &v }

func winRecord() model.PurchaseRecord {
	return model.PurchaseRecord{
		PurchaseNumber:   "PN-1",
		EISURL:           "https://zakupki.gov.ru/PN-1",
		WinnerName:       `ООО "Акме"`,
		TaxID:            "7701234567",
		CustomerName:     "Администрация города",
		ContractSecuring: money(250_000),
		WinnerPrice:      money(240_000),
	}
}

func TestBudgetPreFilterMakesNoRemoteCalls(t *testing.T) {
	crm := newMockCRM()
	eng := newTestEngine(t, crm, testConfig())
	crm.calls = map[string]int{} // drop the directory sweeps

	rec := winRecord()
	rec.ContractSecuring = money(50_000)

	sum, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, sum.Processed)
	assert.Empty(t, crm.calls)
}

func TestEmptyWinnerNameSkipped(t *testing.T) {
	crm := newMockCRM()
	eng := newTestEngine(t, crm, testConfig())
	crm.calls = map[string]int{}

	rec := winRecord()
	rec.WinnerName = "   "

	sum, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Empty(t, crm.calls)
}

func TestFirstSightingCreatesEverything(t *testing.T) {
	crm := newMockCRM()
	eng := newTestEngine(t, crm, testConfig())

	sum, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{winRecord()})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.LeadsCreated)
	assert.Equal(t, 1, sum.NotesAdded)
	assert.Equal(t, 1, sum.Tasks)
	assert.Equal(t, 0, sum.Failed)

	require.Len(t, crm.companies, 1)
	taxID, ok := crm.companies[0].FieldValue(401)
	require.True(t, ok)
	assert.Equal(t, "7701234567", taxID)

	require.Len(t, crm.leads, 1)
	lead := crm.leads[0]
	assert.Equal(t, `ООО "Акме"`, lead.Name)
	assert.Equal(t, int64(250_000), lead.Price)
	assert.Equal(t, int64(10), lead.PipelineID)
	assert.Equal(t, int64(100), lead.StatusID)
	require.NotNil(t, lead.Embedded)
	require.Len(t, lead.Embedded.Companies, 1)
	assert.Equal(t, crm.companies[0].ID, lead.Embedded.Companies[0].ID)

	notes := crm.notes[lead.ID]
	require.Len(t, notes, 1)
	assert.True(t, strings.HasPrefix(notes[0].Params.Text, "WIN_ID:PN-1"))

	// A fresh lead has no owner, so the task routes to the coordinator.
	require.Len(t, crm.tasks, 1)
	assert.Equal(t, int64(1), crm.tasks[0].ResponsibleUserID)
	assert.Equal(t, lead.ID, crm.tasks[0].EntityID)
	assert.Equal(t, int64(501), crm.tasks[0].TaskTypeID)
}

func TestSecondRunIsIdempotent(t *testing.T) {
	crm := newMockCRM()
	eng := newTestEngine(t, crm, testConfig())
	rec := winRecord()

	_, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{rec})
	require.NoError(t, err)

	sum, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{rec})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 0, sum.LeadsCreated)
	assert.Equal(t, 0, sum.LeadsUpdated)
	assert.Equal(t, 0, sum.NotesAdded)

	assert.Len(t, crm.companies, 1)
	assert.Len(t, crm.leads, 1)
	assert.Len(t, crm.notes[crm.leads[0].ID], 1)
	// Identical price: never patched.
	assert.Equal(t, 0, crm.calls["UpdateLead:price"])
	// A fresh task is still cut on every pass.
	assert.Len(t, crm.tasks, 2)
}

func TestPriceUpdateIsExactlyOne(t *testing.T) {
	crm := newMockCRM()
	cfg := testConfig()
	eng := newTestEngine(t, crm, cfg)
	rec := winRecord()

	_, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{rec})
	require.NoError(t, err)
	crm.calls = map[string]int{}

	rec.ContractSecuring = money(300_000)
	sum, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{rec})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.LeadsUpdated)
	assert.Equal(t, 1, crm.calls["UpdateLead:price"])
	// The price patch already refreshed updated_at; no extra touch even
	// though the changed budget produced a new annotation.
	assert.Equal(t, 0, crm.calls["UpdateLead:touch"])
	assert.Equal(t, int64(300_000), crm.leads[0].Price)
	assert.NotZero(t, crm.leads[0].UpdatedAt)
}

func TestZeroBudgetNeverOverwritesPrice(t *testing.T) {
	crm := newMockCRM()
	cfg := testConfig()
	cfg.Sync.MinBudget = 0
	eng := newTestEngine(t, crm, cfg)

	rec := winRecord()
	_, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{rec})
	require.NoError(t, err)
	crm.calls = map[string]int{}

	// A later sparse row with a zero amount means "no information".
	rec.ContractSecuring = money(0)
	sum, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{rec})
	require.NoError(t, err)

	assert.Equal(t, 0, sum.LeadsUpdated)
	assert.Equal(t, 0, crm.calls["UpdateLead:price"])
	assert.Equal(t, int64(250_000), crm.leads[0].Price)
	// The zero budget changed the annotation text, so a note landed and
	// recency was refreshed by a touch, not a price write.
	assert.Equal(t, 1, sum.NotesAdded)
	assert.Equal(t, 1, crm.calls["UpdateLead:touch"])
}

func TestTaskRoutesToOwnerWhenAssigned(t *testing.T) {
	crm := newMockCRM()
	crm.leads = []amocrm.Lead{{
		ID:                77,
		Name:              `ООО "Акме"`,
		Price:             250_000,
		PipelineID:        10,
		StatusID:          100,
		ResponsibleUserID: 3,
	}}
	eng := newTestEngine(t, crm, testConfig())

	_, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{winRecord()})
	require.NoError(t, err)

	require.Len(t, crm.tasks, 1)
	assert.Equal(t, int64(3), crm.tasks[0].ResponsibleUserID)
}

func TestTaskRoutesToCoordinatorForUnsortedOwner(t *testing.T) {
	crm := newMockCRM()
	crm.leads = []amocrm.Lead{{
		ID:                77,
		Name:              `ООО "Акме"`,
		Price:             250_000,
		PipelineID:        10,
		StatusID:          100,
		ResponsibleUserID: 2, // unsorted sentinel
	}}
	eng := newTestEngine(t, crm, testConfig())

	_, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{winRecord()})
	require.NoError(t, err)

	require.Len(t, crm.tasks, 1)
	assert.Equal(t, int64(1), crm.tasks[0].ResponsibleUserID)
}

func TestExcludedOwnerLeadIsNotMatched(t *testing.T) {
	crm := newMockCRM()
	crm.leads = []amocrm.Lead{{
		ID:                77,
		Name:              `ООО "Акме"`,
		Price:             1,
		PipelineID:        10,
		StatusID:          100,
		ResponsibleUserID: 4,
	}}
	cfg := testConfig()
	cfg.Sync.ExcludedOwners = []string{"Уволенный"}
	eng := newTestEngine(t, crm, cfg)

	sum, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{winRecord()})
	require.NoError(t, err)

	// The excluded lead is invisible; a new one is created beside it.
	assert.Equal(t, 1, sum.LeadsCreated)
	assert.Len(t, crm.leads, 2)
	assert.Equal(t, int64(1), crm.leads[0].Price)
}

func TestFailedLeadSearchWithholdsCreate(t *testing.T) {
	crm := newMockCRM()
	eng := newTestEngine(t, crm, testConfig())
	crm.searchLeadsErr = eris.New("connection reset")

	sum, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{winRecord()})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 0, crm.calls["CreateLead"])
	assert.Equal(t, 0, crm.calls["CreateCompany"])
}

func TestDegradedNoteListingWithholdsAppend(t *testing.T) {
	crm := newMockCRM()
	eng := newTestEngine(t, crm, testConfig())
	rec := winRecord()

	_, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{rec})
	require.NoError(t, err)
	crm.calls = map[string]int{}
	crm.leadNotesErr = eris.New("listing truncated")

	sum, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{rec})
	require.NoError(t, err)

	// The record itself still counts as processed; only the append is
	// withheld until the next pass can see the full note list.
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 0, sum.Failed)
	assert.Equal(t, 0, crm.calls["AddLeadNote"])
	assert.Len(t, crm.notes[crm.leads[0].ID], 1)
}

func TestAuthErrorAbortsBatch(t *testing.T) {
	crm := newMockCRM()
	eng := newTestEngine(t, crm, testConfig())
	crm.searchLeadsErr = &amocrm.APIError{StatusCode: 401, Body: "token expired"}

	records := []model.PurchaseRecord{winRecord(), winRecord()}
	sum, err := eng.ProcessBatch(context.Background(), records)

	require.Error(t, err)
	assert.True(t, amocrm.IsAuth(err))
	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, 1, crm.calls["SearchLeads"])
}

func TestPerRecordFailureIsolation(t *testing.T) {
	crm := newMockCRM()
	eng := newTestEngine(t, crm, testConfig())
	crm.searchCompaniesErr = eris.New("flaky backend")

	bad := winRecord()
	good := winRecord()
	good.PurchaseNumber = "PN-2"
	good.WinnerName = `ООО "Вектор"`
	good.TaxID = "" // no tax id, resolver short-circuits without searching

	sum, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{bad, good})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.LeadsCreated)
}

func TestTaxlessRecordCreatesLeadWithoutCompany(t *testing.T) {
	crm := newMockCRM()
	eng := newTestEngine(t, crm, testConfig())
	rec := winRecord()
	rec.TaxID = ""

	sum, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{rec})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.LeadsCreated)
	require.Len(t, crm.leads, 1)
	// A name-only company is not searchable next pass, so none is made
	// at all and the lead stays unlinked.
	assert.Nil(t, crm.leads[0].Embedded)
	assert.Empty(t, crm.companies)

	// Reprocessing the same record must not accumulate companies.
	_, err = eng.ProcessBatch(context.Background(), []model.PurchaseRecord{rec})
	require.NoError(t, err)
	assert.Empty(t, crm.companies)
	assert.Equal(t, 0, crm.calls["CreateCompany"])
	assert.Len(t, crm.leads, 1)
}

func TestTaskOnlyOnChangeWhenEveryPassDisabled(t *testing.T) {
	crm := newMockCRM()
	cfg := testConfig()
	cfg.Task.EveryPass = false
	eng := newTestEngine(t, crm, cfg)
	rec := winRecord()

	_, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{rec})
	require.NoError(t, err)
	assert.Len(t, crm.tasks, 1)

	// Nothing changed: no second task.
	_, err = eng.ProcessBatch(context.Background(), []model.PurchaseRecord{rec})
	require.NoError(t, err)
	assert.Len(t, crm.tasks, 1)
}

func TestUnknownPipelineFailsThePass(t *testing.T) {
	crm := newMockCRM()
	cfg := testConfig()
	cfg.Sync.PipelineName = "Несуществующая воронка"
	eng := newTestEngine(t, crm, cfg)

	_, err := eng.ProcessBatch(context.Background(), []model.PurchaseRecord{winRecord()})
	require.Error(t, err)
	assert.Equal(t, 0, crm.calls["SearchLeads"])
}
