package domain

import (
	"encoding/json"
	"time"
)

type RecordType string

const (
	RecordPriceableItem RecordType = "priceable_item"
	RecordPricingPeriod RecordType = "pricing_period"
	RecordFee           RecordType = "fee"
	RecordEntityTax     RecordType = "entity_tax"
	RecordAvailability  RecordType = "availability"
)

type ChangeType string

const (
	ChangeCreated   ChangeType = "created"
	ChangeUpdated   ChangeType = "updated"
	ChangeDeleted   ChangeType = "deleted"
	ChangeBlocked   ChangeType = "blocked"
	ChangeUnblocked ChangeType = "unblocked"
	ChangeBooked    ChangeType = "booked"
	ChangeReleased  ChangeType = "released"
	ChangeCapacity  ChangeType = "capacity"
)

type Source string

const (
	SourceAPI     Source = "api"
	SourceBooking Source = "booking"
	SourceSystem  Source = "system"
)

// HistoryEntry is one append-only audit row. Only the rollback stamp is ever updated.
type HistoryEntry struct {
	ID           string          `json:"id"`
	Entity       EntityRef       `json:"entity"`
	RecordType   RecordType      `json:"record_type"`
	RecordID     string          `json:"record_id"`
	ChangeType   ChangeType      `json:"change_type"`
	OldValues    json.RawMessage `json:"old_values,omitempty"`
	NewValues    json.RawMessage `json:"new_values,omitempty"`
	Actor        Actor           `json:"actor"`
	Source       Source          `json:"source"`
	CanRollback  bool            `json:"can_rollback"`
	RolledBackAt *time.Time      `json:"rolled_back_at,omitempty"`
	RolledBackBy string          `json:"rolled_back_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type HistoryFilter struct {
	RecordType RecordType
	RecordID   string
	Limit      int
}

// AvailabilityChange is the snapshot stored for ledger mutations.
type AvailabilityChange struct {
	Periods []AvailabilityPeriod `json:"periods"`
}
