package reconcile

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/SystemCRM24/tendersync/internal/directory"
	"github.com/SystemCRM24/tendersync/pkg/amocrm"
)

// CompanyResolver finds or lazily creates the company behind a tax id.
type CompanyResolver struct {
	client   amocrm.Client
	dir      *directory.Directory
	taxField string
}

// NewCompanyResolver creates a resolver keyed on the named company
// custom field holding the tax id.
func NewCompanyResolver(client amocrm.Client, dir *directory.Directory, taxField string) *CompanyResolver {
	return &CompanyResolver{client: client, dir: dir, taxField: taxField}
}

// FindByTaxID looks a company up by exact tax id. The remote search
// endpoint is free-text only, so this issues a query and keeps only
// companies whose tax-id field value equals taxID exactly.
func (r *CompanyResolver) FindByTaxID(ctx context.Context, taxID string) (*amocrm.Company, error) {
	taxID = strings.TrimSpace(taxID)
	if taxID == "" {
		return nil, nil
	}

	fieldID, ok := r.dir.CompanyFieldID(r.taxField)
	if !ok {
		zap.L().Warn("company tax-id field not in directory, lookup impossible",
			zap.String("field", r.taxField))
		return nil, nil
	}

	candidates, err := r.client.SearchCompanies(ctx, taxID)
	if err != nil {
		return nil, eris.Wrapf(err, "company search by tax id %s", taxID)
	}

	for i := range candidates {
		if v, ok := candidates[i].FieldValue(fieldID); ok && v == taxID {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// CreateOrGet returns the existing company for taxID or creates one.
// Records without a tax id get no company at all: a name-only company
// cannot be looked up again on the next pass, so creating one would mint
// a duplicate per run. The lead stays unlinked instead. A race that
// produces two companies with the same tax id is not reconciled here:
// whichever the next search returns first wins.
func (r *CompanyResolver) CreateOrGet(ctx context.Context, name, taxID string) (*amocrm.Company, error) {
	taxID = strings.TrimSpace(taxID)
	if taxID == "" {
		zap.L().Debug("record has no tax id, leaving lead without a company",
			zap.String("company", name))
		return nil, nil
	}

	existing, err := r.FindByTaxID(ctx, taxID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	req := amocrm.NewCompany{Name: name}
	if fieldID, ok := r.dir.CompanyFieldID(r.taxField); ok {
		req.CustomFields = []amocrm.FieldValues{{
			FieldID: fieldID,
			Values:  []amocrm.FieldValue{{Value: taxID}},
		}}
	} else {
		zap.L().Warn("company tax-id field unresolved, creating company without it",
			zap.String("company", name))
	}

	company, err := r.client.CreateCompany(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "create company %q", name)
	}
	zap.L().Info("company created",
		zap.Int64("company_id", company.ID),
		zap.String("name", name),
		zap.String("tax_id", taxID),
	)
	return company, nil
}
