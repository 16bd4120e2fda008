package orders

type PaymentState string

const (
	StatePending PaymentState = "Pending"
	StatePaid    PaymentState = "Paid"
	StateFailed  PaymentState = "Failed"
)

// Paid -> Paid is the idempotent replay of a confirmation.
var validNext = map[PaymentState]map[PaymentState]bool{
	StatePending: {StatePaid: true, StateFailed: true},
	StatePaid:    {StatePaid: true},
	StateFailed:  {},
}

func CanTransition(from, to PaymentState) bool {
	return validNext[from][to]
}

func (s PaymentState) Terminal() bool {
	return s == StatePaid || s == StateFailed
}

func (s PaymentState) Valid() bool {
	_, ok := validNext[s]
	return ok
}
