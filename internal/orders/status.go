package orders

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusDelivered: true, StatusRefunded: true},
	StatusDelivered:  {StatusRefunded: true},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal statuses accept no further transition or item mutation.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

// ItemsMutable reports whether items may be added, changed or removed.
func (s Status) ItemsMutable() bool {
	return s == StatusPending || s == StatusProcessing
}

// releasesStock reports whether entering s gives every reserved unit back.
func (s Status) releasesStock() bool {
	return s.Terminal()
}
