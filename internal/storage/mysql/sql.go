package mysql

// Column lists are shared by INSERT/UPSERT and SELECT so scan order stays in sync.

const listingCols = `entity_kind, entity_id, host_id, max_guests, booking_type, cancellation_policy,
  uses_capacity, country, region, city`

const getListingSQL = `SELECT ` + listingCols + ` FROM listings WHERE entity_kind = ? AND entity_id = ?`

const upsertListingSQL = `
INSERT INTO listings (` + listingCols + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  host_id             = VALUES(host_id),
  max_guests          = VALUES(max_guests),
  booking_type        = VALUES(booking_type),
  cancellation_policy = VALUES(cancellation_policy),
  uses_capacity       = VALUES(uses_capacity),
  country             = VALUES(country),
  region              = VALUES(region),
  city                = VALUES(city)
`

// -----------------------------------------------------------------------------
// CATALOG
// -----------------------------------------------------------------------------

const itemCols = `id, entity_kind, entity_id, pricing_type, base_price, currency, base_amount_eur,
  has_weekend_pricing, weekend_price, weekend_days, bulk_discount_threshold, bulk_discount_percent,
  min_quantity, max_quantity, is_active, created_at, updated_at`

const getActiveItemSQL = `SELECT ` + itemCols + ` FROM priceable_items
WHERE entity_kind = ? AND entity_id = ? AND is_active = 1
ORDER BY updated_at DESC LIMIT 1`

const getItemSQL = `SELECT ` + itemCols + ` FROM priceable_items WHERE id = ?`

const upsertItemSQL = `
INSERT INTO priceable_items (` + itemCols + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  entity_kind             = VALUES(entity_kind),
  entity_id               = VALUES(entity_id),
  pricing_type            = VALUES(pricing_type),
  base_price              = VALUES(base_price),
  currency                = VALUES(currency),
  base_amount_eur         = VALUES(base_amount_eur),
  has_weekend_pricing     = VALUES(has_weekend_pricing),
  weekend_price           = VALUES(weekend_price),
  weekend_days            = VALUES(weekend_days),
  bulk_discount_threshold = VALUES(bulk_discount_threshold),
  bulk_discount_percent   = VALUES(bulk_discount_percent),
  min_quantity            = VALUES(min_quantity),
  max_quantity            = VALUES(max_quantity),
  is_active               = VALUES(is_active),
  updated_at              = VALUES(updated_at)
`

const deleteItemSQL = `DELETE FROM priceable_items WHERE id = ?`

const periodCols = `id, entity_kind, entity_id, name, start_date, end_date, days_of_week, rule_type,
  value, priority, is_active, created_at, updated_at`

// Order mirrors PricingPeriod.Outranks.
const listPricingPeriodsSQL = `SELECT ` + periodCols + ` FROM pricing_periods
WHERE entity_kind = ? AND entity_id = ?
ORDER BY priority DESC, created_at DESC, id DESC`

const getPricingPeriodSQL = `SELECT ` + periodCols + ` FROM pricing_periods WHERE id = ?`

const upsertPricingPeriodSQL = `
INSERT INTO pricing_periods (` + periodCols + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  entity_kind  = VALUES(entity_kind),
  entity_id    = VALUES(entity_id),
  name         = VALUES(name),
  start_date   = VALUES(start_date),
  end_date     = VALUES(end_date),
  days_of_week = VALUES(days_of_week),
  rule_type    = VALUES(rule_type),
  value        = VALUES(value),
  priority     = VALUES(priority),
  is_active    = VALUES(is_active),
  updated_at   = VALUES(updated_at)
`

const deletePricingPeriodSQL = `DELETE FROM pricing_periods WHERE id = ?`

const feeCols = `id, entity_kind, entity_id, name, fee_type, charge_type, amount, percentage_rate,
  percentage_basis, currency, applies_after_quantity, applies_after_persons, applies_after_amount,
  is_mandatory, is_refundable, is_taxable, display_order, is_active, created_at, updated_at, deleted_at`

// Order mirrors Fee.Before.
const listFeesSQL = `SELECT ` + feeCols + ` FROM fees
WHERE entity_kind = ? AND entity_id = ? AND deleted_at IS NULL
ORDER BY display_order, created_at, id`

const getFeeSQL = `SELECT ` + feeCols + ` FROM fees WHERE id = ?`

const upsertFeeSQL = `
INSERT INTO fees (` + feeCols + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  entity_kind            = VALUES(entity_kind),
  entity_id              = VALUES(entity_id),
  name                   = VALUES(name),
  fee_type               = VALUES(fee_type),
  charge_type            = VALUES(charge_type),
  amount                 = VALUES(amount),
  percentage_rate        = VALUES(percentage_rate),
  percentage_basis       = VALUES(percentage_basis),
  currency               = VALUES(currency),
  applies_after_quantity = VALUES(applies_after_quantity),
  applies_after_persons  = VALUES(applies_after_persons),
  applies_after_amount   = VALUES(applies_after_amount),
  is_mandatory           = VALUES(is_mandatory),
  is_refundable          = VALUES(is_refundable),
  is_taxable             = VALUES(is_taxable),
  display_order          = VALUES(display_order),
  is_active              = VALUES(is_active),
  updated_at             = VALUES(updated_at),
  deleted_at             = VALUES(deleted_at)
`

const deleteFeeSQL = `DELETE FROM fees WHERE id = ?`

const taxRateCols = `id, name, country, region, city, tax_type, rate_type, rate, calculation_basis,
  included_in_price, min_age, max_age, max_units, effective_from, effective_until, priority, is_active,
  created_at, updated_at`

// Region and city narrowing happens in Go through TaxRate.Matches.
const listTaxRatesSQL = `SELECT ` + taxRateCols + ` FROM tax_rates
WHERE (? = '' OR country = '' OR country = ?) AND (? = 0 OR is_active = 1)
ORDER BY priority DESC, id`

const getTaxRateSQL = `SELECT ` + taxRateCols + ` FROM tax_rates WHERE id = ?`

const upsertTaxRateSQL = `
INSERT INTO tax_rates (` + taxRateCols + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  name              = VALUES(name),
  country           = VALUES(country),
  region            = VALUES(region),
  city              = VALUES(city),
  tax_type          = VALUES(tax_type),
  rate_type         = VALUES(rate_type),
  rate              = VALUES(rate),
  calculation_basis = VALUES(calculation_basis),
  included_in_price = VALUES(included_in_price),
  min_age           = VALUES(min_age),
  max_age           = VALUES(max_age),
  max_units         = VALUES(max_units),
  effective_from    = VALUES(effective_from),
  effective_until   = VALUES(effective_until),
  priority          = VALUES(priority),
  is_active         = VALUES(is_active),
  updated_at        = VALUES(updated_at)
`

const entityTaxCols = `id, entity_kind, entity_id, tax_rate_id, use_override, override_rate, override_basis,
  override_included, is_exempt, exemption_reason, exemption_certificate, exemption_expires_at, is_active,
  created_at, updated_at`

const listEntityTaxesSQL = `
SELECT et.id, et.entity_kind, et.entity_id, et.tax_rate_id, et.use_override, et.override_rate, et.override_basis,
  et.override_included, et.is_exempt, et.exemption_reason, et.exemption_certificate, et.exemption_expires_at,
  et.is_active, et.created_at, et.updated_at,
  r.id, r.name, r.country, r.region, r.city, r.tax_type, r.rate_type, r.rate, r.calculation_basis,
  r.included_in_price, r.min_age, r.max_age, r.max_units, r.effective_from, r.effective_until, r.priority,
  r.is_active, r.created_at, r.updated_at
FROM entity_taxes et
JOIN tax_rates r ON r.id = et.tax_rate_id
WHERE et.entity_kind = ? AND et.entity_id = ?
ORDER BY r.priority DESC, et.id`

const getEntityTaxSQL = `SELECT ` + entityTaxCols + ` FROM entity_taxes WHERE id = ?`

// Insert-or-update keyed by id; uq_entity_tax turns a second assignment of the
// same rate into a duplicate-key error.
const upsertEntityTaxSQL = `
INSERT INTO entity_taxes (` + entityTaxCols + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  use_override          = VALUES(use_override),
  override_rate         = VALUES(override_rate),
  override_basis        = VALUES(override_basis),
  override_included     = VALUES(override_included),
  is_exempt             = VALUES(is_exempt),
  exemption_reason      = VALUES(exemption_reason),
  exemption_certificate = VALUES(exemption_certificate),
  exemption_expires_at  = VALUES(exemption_expires_at),
  is_active             = VALUES(is_active),
  updated_at            = VALUES(updated_at)
`

const entityTaxConflictSQL = `SELECT COUNT(*) FROM entity_taxes
WHERE entity_kind = ? AND entity_id = ? AND tax_rate_id = ? AND id <> ?`

const deleteEntityTaxSQL = `DELETE FROM entity_taxes WHERE id = ?`

// -----------------------------------------------------------------------------
// AVAILABILITY
// -----------------------------------------------------------------------------

const availCols = `id, entity_kind, entity_id, start_date, end_date, start_time, end_time, days_of_week,
  status, reason, max_capacity, current_bookings, booking_id, created_at, updated_at`

// Closed-interval overlap: start_date <= end AND end_date >= start.
const listPeriodsSQL = `SELECT ` + availCols + ` FROM availability_periods
WHERE entity_kind = ? AND entity_id = ? AND start_date <= ? AND end_date >= ?
ORDER BY start_date, created_at, id`

const getPeriodSQL = `SELECT ` + availCols + ` FROM availability_periods WHERE id = ?`

const insertPeriodSQL = `INSERT INTO availability_periods (` + availCols + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const updatePeriodSQL = `
UPDATE availability_periods SET
  start_date = ?, end_date = ?, start_time = ?, end_time = ?, days_of_week = ?, status = ?, reason = ?,
  max_capacity = ?, current_bookings = ?, booking_id = ?, updated_at = ?
WHERE id = ?`

const deletePeriodsPrefix = `DELETE FROM availability_periods WHERE id IN (`

// The duplicate-key branch takes an exclusive lock on the existing row, so
// concurrent lockers queue instead of sharing a lock they later upgrade.
const lockEntitySQL = `INSERT INTO entity_locks (entity_kind, entity_id, locked_at) VALUES (?, ?, CURRENT_TIMESTAMP(6))
ON DUPLICATE KEY UPDATE locked_at = CURRENT_TIMESTAMP(6)`

// -----------------------------------------------------------------------------
// BOOKINGS
// -----------------------------------------------------------------------------

const bookingCols = `id, entity_kind, entity_id, guest_id, host_id, check_in, check_out, nights, guests,
  guest_ages, selected_fees, status, booking_type, cancellation_policy, subtotal, fees_total, taxes_total,
  total, currency, breakdown, payment_status, paid_at, availability_period_id, uses_capacity, confirmed_at,
  declined_at, decline_reason, cancelled_at, cancelled_by, cancellation_reason, refund_amount, completed_at,
  created_at, updated_at, deleted_at`

const insertBookingSQL = `INSERT INTO bookings (` + bookingCols + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const getBookingSQL = `SELECT ` + bookingCols + ` FROM bookings WHERE id = ? AND deleted_at IS NULL`

// The breakdown is frozen at creation and never rewritten.
const updateBookingSQL = `
UPDATE bookings SET
  status = ?, payment_status = ?, paid_at = ?, availability_period_id = ?, confirmed_at = ?,
  declined_at = ?, decline_reason = ?, cancelled_at = ?, cancelled_by = ?, cancellation_reason = ?,
  refund_amount = ?, completed_at = ?, updated_at = ?, deleted_at = ?
WHERE id = ?`

const listBookingsSQL = `SELECT ` + bookingCols + ` FROM bookings WHERE deleted_at IS NULL`

// -----------------------------------------------------------------------------
// HISTORY
// -----------------------------------------------------------------------------

const historyCols = `id, entity_kind, entity_id, record_type, record_id, change_type, old_values, new_values,
  actor_id, actor_ip, source, can_rollback, rolled_back_at, rolled_back_by, created_at`

const insertHistorySQL = `INSERT INTO pricing_history (` + historyCols + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const getHistorySQL = `SELECT ` + historyCols + ` FROM pricing_history WHERE id = ?`

const listHistorySQL = `SELECT ` + historyCols + ` FROM pricing_history
WHERE entity_kind = ? AND entity_id = ? AND (? = '' OR record_type = ?) AND (? = '' OR record_id = ?)
ORDER BY created_at DESC, id DESC`

const markRolledBackSQL = `UPDATE pricing_history SET rolled_back_at = ?, rolled_back_by = ? WHERE id = ?`
