package core

// Operation is a REST call the client can make.
type Operation int

const (
	// OpGetTicker retrieves the ticker of a product.
	OpGetTicker Operation = iota
	// OpGetHealth retrieves the exchange status of a product.
	OpGetHealth
	// OpGetBalance retrieves the asset balances.
	OpGetBalance
	// OpGetCollateral retrieves the margin account summary.
	OpGetCollateral
	// OpGetCollateralHistory retrieves changes to the margin account.
	OpGetCollateralHistory
	// OpGetPositions retrieves open margin positions.
	OpGetPositions
	// OpSendChildOrder submits a new child order.
	OpSendChildOrder
)

var operationNames = [...]string{
	"GET_TICKER",
	"GET_HEALTH",
	"GET_BALANCE",
	"GET_COLLATERAL",
	"GET_COLLATERAL_HISTORY",
	"GET_POSITIONS",
	"SEND_CHILD_ORDER",
}

func (o Operation) String() string {
	if o < 0 || int(o) >= len(operationNames) {
		return "UNKNOWN"
	}
	return operationNames[o]
}

// Private reports whether the operation needs a signed request.
func (o Operation) Private() bool {
	return o >= OpGetBalance
}
