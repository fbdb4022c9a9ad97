package domain

// Listing is the bookable-entity metadata the engine reads but does not manage.
type Listing struct {
	Ref                EntityRef          `json:"ref"`
	HostID             string             `json:"host_id"`
	MaxGuests          int                `json:"max_guests"`
	BookingType        BookingType        `json:"booking_type"`
	CancellationPolicy CancellationPolicy `json:"cancellation_policy"`
	UsesCapacity       bool               `json:"uses_capacity"`
	Country            string             `json:"country"`
	Region             string             `json:"region,omitempty"`
	City               string             `json:"city,omitempty"`
}
