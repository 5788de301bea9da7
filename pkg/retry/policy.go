package retry

// Verdict is the result of the retry budget check
type Verdict int

const (
	Allow    Verdict = iota // Another attempt fits in the budget
	Exceeded                // Budget exhausted; the lineage ends here
)

func (v Verdict) String() string {
	if v == Allow {
		return "allow"
	}
	return "exceeded"
}

// Decide grants a retry iff retryCount < maxRetries.
// A request that has already been retried maxRetries times is not retried again.
func Decide(retryCount, maxRetries int) Verdict {
	if retryCount < maxRetries {
		return Allow
	}
	return Exceeded
}
