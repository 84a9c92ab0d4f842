package orders

// CanTransition reports whether an order of the given fulfilment type may move
// from one status to another. The forward path is
// PENDING -> CONFIRMED -> PREPARING -> READY -> OUT_FOR_DELIVERY -> DELIVERED,
// with takeaway orders skipping OUT_FOR_DELIVERY. Any non-terminal status may
// move to CANCELLED; DELIVERED and CANCELLED accept nothing.
func CanTransition(fulfilmentType, from, to string) bool {
	if IsTerminal(from) {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusConfirmed
	case StatusConfirmed:
		return to == StatusPreparing
	case StatusPreparing:
		return to == StatusReady
	case StatusReady:
		if fulfilmentType == FulfilmentTakeaway {
			return to == StatusDelivered
		}
		return to == StatusOutForDelivery
	case StatusOutForDelivery:
		return to == StatusDelivered
	}
	return false
}

// ValidStatus reports whether s is one of the defined order statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady,
		StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}
