package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type CatalogRepository interface {
	// Priceable items
	GetActivePriceableItem(ctx context.Context, ref EntityRef) (PriceableItem, error)
	GetPriceableItem(ctx context.Context, id string) (PriceableItem, error)
	SavePriceableItem(ctx context.Context, it PriceableItem) error
	DeletePriceableItem(ctx context.Context, id string) error

	// Pricing periods
	ListPricingPeriods(ctx context.Context, ref EntityRef) ([]PricingPeriod, error)
	GetPricingPeriod(ctx context.Context, id string) (PricingPeriod, error)
	SavePricingPeriod(ctx context.Context, p PricingPeriod) error
	DeletePricingPeriod(ctx context.Context, id string) error

	// Fees; List skips soft-deleted rows
	ListFees(ctx context.Context, ref EntityRef) ([]Fee, error)
	GetFee(ctx context.Context, id string) (Fee, error)
	SaveFee(ctx context.Context, f Fee) error
	DeleteFee(ctx context.Context, id string) error

	// Taxes
	ListTaxRates(ctx context.Context, f TaxRateFilter) ([]TaxRate, error)
	GetTaxRate(ctx context.Context, id string) (TaxRate, error)
	SaveTaxRate(ctx context.Context, r TaxRate) error
	ListEntityTaxes(ctx context.Context, ref EntityRef) ([]AssignedTax, error)
	GetEntityTax(ctx context.Context, id string) (EntityTax, error)
	SaveEntityTax(ctx context.Context, t EntityTax) error
	DeleteEntityTax(ctx context.Context, id string) error
}

type AvailabilityRepository interface {
	// ListPeriods returns periods intersecting [start,end], ordered by start date.
	ListPeriods(ctx context.Context, ref EntityRef, start, end time.Time) ([]AvailabilityPeriod, error)
	GetPeriod(ctx context.Context, id string) (AvailabilityPeriod, error)
	InsertPeriod(ctx context.Context, p AvailabilityPeriod) error
	UpdatePeriod(ctx context.Context, p AvailabilityPeriod) error
	DeletePeriods(ctx context.Context, ids ...string) error
}

type BookingRepository interface {
	CreateBooking(ctx context.Context, b Booking) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	// GetBookingForUpdate holds an exclusive row lock until the transaction ends.
	GetBookingForUpdate(ctx context.Context, id string) (Booking, error)
	UpdateBooking(ctx context.Context, b Booking) error
	ListBookings(ctx context.Context, f BookingFilter) ([]Booking, error)
}

type HistoryRepository interface {
	AppendHistory(ctx context.Context, e HistoryEntry) error
	GetHistory(ctx context.Context, id string) (HistoryEntry, error)
	GetHistoryForUpdate(ctx context.Context, id string) (HistoryEntry, error)
	ListHistory(ctx context.Context, ref EntityRef, f HistoryFilter) ([]HistoryEntry, error)
	MarkRolledBack(ctx context.Context, id string, at time.Time, by string) error
}

type ListingDirectory interface {
	GetListing(ctx context.Context, ref EntityRef) (Listing, error)
}

// Repos is the full set of repositories bound to one connection or transaction.
type Repos interface {
	CatalogRepository
	AvailabilityRepository
	BookingRepository
	HistoryRepository
	ListingDirectory

	// LockEntity serializes ledger mutations for one entity until the transaction ends.
	LockEntity(ctx context.Context, ref EntityRef) error
}

// Store runs fn atomically. Any error returned by fn rolls the whole unit back.
type Store interface {
	Repos
	InTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// Notifier delivers booking events. Delivery is best effort.
type Notifier interface {
	Send(ctx context.Context, event BookingEvent, payload any) error
}

type CurrencyConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error)
}
