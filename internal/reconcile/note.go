package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/SystemCRM24/tendersync/internal/model"
)

// winIDPrefix marks the first line of every win annotation with the
// purchase number, so notes belonging to one win can be told apart from
// hand-written ones.
const winIDPrefix = "WIN_ID:"

const noValue = "не указано"

// RenderNote produces the deterministic annotation text for a purchase
// record: the WIN_ID line, ordered key/value lines, and up to three
// contact blocks. Identical input always yields byte-identical output,
// which is what note dedup relies on.
func RenderNote(rec model.PurchaseRecord) string {
	lines := []string{
		winIDPrefix + rec.Key(),
		"Ссылка на закупку: " + fmtString(rec.EISURL),
		"Наименование победителя: " + fmtString(rec.WinnerName),
		"ИНН: " + fmtString(rec.TaxID),
		"Дата итогов: " + fmtDate(rec.ResultDate),
		"Наименование заказчика: " + fmtString(rec.CustomerName),
		"НМЦК: " + fmtFloat(rec.NMCK),
		"Обеспечение контракта: " + fmtFloat(rec.ContractSecuring),
		"Обеспечение гарантийных обязательств: " + fmtFloat(rec.WarrantySecuring),
		"Окончание контракта: " + fmtDate(rec.ContractEndDate),
		"Цена победителя: " + fmtFloat(rec.WinnerPrice),
	}

	var contactLines []string
	for i, c := range rec.Contacts {
		if c.Empty() {
			continue
		}
		contactLines = append(contactLines, fmt.Sprintf("  - Контакт %d: %s / %s / %s",
			i+1, fmtString(c.FIO), fmtString(c.Phone), fmtString(c.Email)))
	}
	if len(contactLines) > 0 {
		lines = append(lines, "Контактные данные:")
		lines = append(lines, contactLines...)
	} else {
		lines = append(lines, "Контактные данные: не указаны")
	}

	lines = append(lines,
		"Преимущества СМП: "+fmtString(rec.SMPAdvantages),
		"Статус СМП: "+fmtString(rec.SMPStatus),
	)

	return strings.Join(lines, "\n")
}

func fmtString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return noValue
	}
	return s
}

func fmtFloat(v *float64) string {
	if v == nil {
		return noValue
	}
	if *v == float64(int64(*v)) {
		return fmt.Sprintf("%d", int64(*v))
	}
	return fmt.Sprintf("%.2f", *v)
}

func fmtDate(t *time.Time) string {
	if t == nil {
		return noValue
	}
	return t.Format("02.01.2006")
}
