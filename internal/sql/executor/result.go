package executor

// Result is the generic query result returned to the caller.
type Result struct {
	Columns []string
	Rows    [][]any

	// For DML:
	AffectedRows int64
	// LastAddress is the row address of the last inserted row.
	LastAddress uint64
}
