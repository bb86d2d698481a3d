package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/SystemCRM24/tendersync/internal/model"
)

// Column keys used internally after header normalization.
const (
	colPurchaseNumber = "purchase_number"
	colEISURL         = "eis_url"
	colWinnerName     = "winner_name"
	colTaxID          = "tax_id"
	colResultDate     = "result_date"
	colCustomerName   = "customer_name"
	colNMCK           = "nmck"
	colContractSec    = "contract_securing"
	colWarrantySec    = "warranty_securing"
	colContractEnd    = "contract_end_date"
	colWinnerPrice    = "winner_price"
	colSMPAdvantages  = "smp_advantages"
	colSMPStatus      = "smp_status"
	colPhone1         = "phone_1"
	colFIO1           = "fio_1"
	colEmail1         = "email_1"
	colPhone2         = "phone_2"
	colFIO2           = "fio_2"
	colEmail2         = "email_2"
	colPhone3         = "phone_3"
	colFIO3           = "fio_3"
	colEmail3         = "email_3"
)

// headerAliases maps case-folded spreadsheet column names to column keys.
// The upstream feed has shipped several variants of the third FIO column.
var headerAliases = map[string]string{
	"номер закупки":                       colPurchaseNumber,
	"закупка в еис":                       colEISURL,
	"победитель":                          colWinnerName,
	"инн победителя":                      colTaxID,
	"дата подведения итогов":              colResultDate,
	"заказчик":                            colCustomerName,
	"нмцк":                                colNMCK,
	"обеспечение контракта":               colContractSec,
	"обеспечение гарантийных обязательств": colWarrantySec,
	"окончание контракта":                 colContractEnd,
	"цена победителя":                     colWinnerPrice,
	"преимущества смп":                    colSMPAdvantages,
	"статус смп у победителя":             colSMPStatus,
	"телефон 1":                           colPhone1,
	"фио 1":                               colFIO1,
	"email 1":                             colEmail1,
	"телефон 2":                           colPhone2,
	"фио 2":                               colFIO2,
	"email 2":                             colEmail2,
	"телефон 3":                           colPhone3,
	"фио 3":                               colFIO3,
	"фио 1.1":                             colFIO3,
	"фио 2.1":                             colFIO3,
	"фио 3.1":                             colFIO3,
	"email 3":                             colEmail3,
}

var headerFolder = cases.Fold()

// ParseFile reads the first sheet of an XLSX winners file into records,
// preserving row order. Rows without a purchase number are dropped.
func ParseFile(path string, extractedAt time.Time) ([]model.PurchaseRecord, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("ingest: %s has no sheets", path)
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	columns := mapHeader(rowToStrings(sheet.Rows[0]))
	if _, ok := columnIndex(columns, colPurchaseNumber); !ok {
		return nil, eris.Errorf("ingest: %s lacks a purchase-number column", path)
	}

	var records []model.PurchaseRecord
	for i, row := range sheet.Rows[1:] {
		rec, ok := parseRow(rowToStrings(row), columns, extractedAt)
		if !ok {
			zap.L().Debug("ingest: dropping row without purchase number", zap.Int("row", i+2))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// mapHeader resolves each header cell to a column key via case folding,
// so "ИНН Победителя" and "инн победителя" land in the same place.
func mapHeader(cells []string) map[string]int {
	columns := make(map[string]int, len(cells))
	for i, cell := range cells {
		folded := headerFolder.String(strings.TrimSpace(cell))
		key, ok := headerAliases[folded]
		if !ok {
			continue
		}
		if _, dup := columns[key]; !dup {
			columns[key] = i
		}
	}
	return columns
}

func columnIndex(columns map[string]int, key string) (int, bool) {
	i, ok := columns[key]
	return i, ok
}

func parseRow(cells []string, columns map[string]int, extractedAt time.Time) (model.PurchaseRecord, bool) {
	get := func(key string) string {
		i, ok := columns[key]
		if !ok || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}

	number := normalizeNumeric(get(colPurchaseNumber))
	if number == "" {
		return model.PurchaseRecord{}, false
	}

	rec := model.PurchaseRecord{
		PurchaseNumber: number,
		EISURL:         get(colEISURL),
		WinnerName:     get(colWinnerName),
		TaxID:          normalizeNumeric(get(colTaxID)),
		CustomerName:   get(colCustomerName),
		SMPAdvantages:  get(colSMPAdvantages),
		SMPStatus:      get(colSMPStatus),
		ExtractedAt:    extractedAt,
	}

	rec.ResultDate = parseDate(get(colResultDate))
	rec.ContractEndDate = parseDate(get(colContractEnd))
	rec.NMCK = parseMoney(get(colNMCK))
	rec.ContractSecuring = parseMoney(get(colContractSec))
	rec.WarrantySecuring = parseMoney(get(colWarrantySec))
	rec.WinnerPrice = parseMoney(get(colWinnerPrice))

	rec.Contacts = [3]model.Contact{
		{FIO: get(colFIO1), Phone: normalizeNumeric(get(colPhone1)), Email: get(colEmail1)},
		{FIO: get(colFIO2), Phone: normalizeNumeric(get(colPhone2)), Email: get(colEmail2)},
		{FIO: get(colFIO3), Phone: normalizeNumeric(get(colPhone3)), Email: get(colEmail3)},
	}

	return rec, true
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}

// normalizeNumeric renders numeric-looking cells (tax ids, phone numbers)
// as plain integer strings: spreadsheets deliver them as floats.
func normalizeNumeric(s string) string {
	if s == "" {
		return ""
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}

// parseMoney accepts "1234567.89", "1 234 567,89" and plain integers.
func parseMoney(s string) *float64 {
	if s == "" {
		return nil
	}
	cleaned := strings.NewReplacer(" ", "", " ", "", ",", ".").Replace(s)
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &f
}

var dateLayouts = []string{
	"02.01.2006",
	"2006-01-02",
	"01-02-06",
	"2006-01-02 15:04:05",
	"02.01.2006 15:04",
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
