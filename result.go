package dynaorm

// ResultState tells whether a write result was confirmed by DynamoDB.
type ResultState int

const (
	// ResultConfirmed marks a result built from the store's response.
	ResultConfirmed ResultState = iota
	// ResultOptimistic marks a result built from the caller's input because
	// the write was buffered in a transaction and has not been sent yet.
	ResultOptimistic
)

func (s ResultState) String() string {
	switch s {
	case ResultConfirmed:
		return "confirmed"
	case ResultOptimistic:
		return "optimistic"
	default:
		return "unknown"
	}
}

// WriteResult is the outcome of Create, Update or Delete.
type WriteResult struct {
	Item     Record
	Previous Record // record replaced by a confirmed Create, if any
	State    ResultState
}

// Confirmed reports whether Item reflects the store's response.
func (r WriteResult) Confirmed() bool {
	return r.State == ResultConfirmed
}

func confirmed(item Record) WriteResult {
	return WriteResult{Item: item, State: ResultConfirmed}
}

func optimistic(item Record) WriteResult {
	return WriteResult{Item: item, State: ResultOptimistic}
}
