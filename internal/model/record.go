// Package model defines the domain types shared across the reconciliation pipeline.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Contact is one of up to three contact tuples attached to a purchase record.
type Contact struct {
	FIO   string `json:"fio,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Empty reports whether the contact carries no data at all.
func (c Contact) Empty() bool {
	return c.FIO == "" && c.Phone == "" && c.Email == ""
}

// PurchaseRecord is one externally-sourced purchase-win row. It is immutable
// once parsed; the purchase number is the natural key. Repeated sightings of
// the same number are re-deliveries of the same win, not new events.
type PurchaseRecord struct {
	PurchaseNumber string `json:"purchase_number"`
	EISURL         string `json:"eis_url,omitempty"`
	WinnerName     string `json:"winner_name"`
	TaxID          string `json:"tax_id,omitempty"`
	CustomerName   string `json:"customer_name,omitempty"`

	ResultDate      *time.Time `json:"result_date,omitempty"`
	ContractEndDate *time.Time `json:"contract_end_date,omitempty"`

	NMCK             *float64 `json:"nmck,omitempty"`
	ContractSecuring *float64 `json:"contract_securing,omitempty"`
	WarrantySecuring *float64 `json:"warranty_securing,omitempty"`
	WinnerPrice      *float64 `json:"winner_price,omitempty"`

	Contacts [3]Contact `json:"contacts,omitempty"`

	SMPAdvantages string `json:"smp_advantages,omitempty"`
	SMPStatus     string `json:"smp_status,omitempty"`

	// ExtractedAt is the timestamp of the extraction batch this record
	// arrived in. The polling driver uses it to gate reprocessing.
	ExtractedAt time.Time `json:"extraction_dt"`
}

// PurchaseLink renders the value written into the lead's purchase-link
// custom field: number plus registry URL when both are known.
func (r PurchaseRecord) PurchaseLink() string {
	switch {
	case r.PurchaseNumber != "" && r.EISURL != "":
		return fmt.Sprintf("%s %s", r.PurchaseNumber, r.EISURL)
	case r.EISURL != "":
		return r.EISURL
	case r.PurchaseNumber != "":
		return fmt.Sprintf("Номер закупки: %s", r.PurchaseNumber)
	}
	return ""
}

// Budget returns the contract-securing amount, the monetary field that
// drives lead pricing. The second result is false when the row carried
// no value at all.
func (r PurchaseRecord) Budget() (float64, bool) {
	if r.ContractSecuring == nil {
		return 0, false
	}
	return *r.ContractSecuring, true
}

// Key returns the natural key of the record for logging.
func (r PurchaseRecord) Key() string {
	return strings.TrimSpace(r.PurchaseNumber)
}
