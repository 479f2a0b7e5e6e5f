package workflow

// Decision is the routing result after a validation attempt.
type Decision string

const (
	DecisionPass     Decision = "pass"
	DecisionRetry    Decision = "retry"
	DecisionEscalate Decision = "escalate"
)

// Default routing parameters. The retry cap bounds the Generate↔Validate
// loop; reaching it forces escalation, never another Generate.
const (
	DefaultPassThreshold = 0.7
	DefaultMaxRetries    = 3
)

// Router decides the transition after each validation attempt. It is the
// single piece of business logic that terminates the quality loop, so it
// is pure and total: every (score, retryCount) pair maps to exactly one
// decision.
type Router struct {
	PassThreshold float64
	MaxRetries    int
}

// DefaultRouter returns a router with the standard threshold and cap.
func DefaultRouter() Router {
	return Router{PassThreshold: DefaultPassThreshold, MaxRetries: DefaultMaxRetries}
}

// Route maps a quality score and the current retry count to the next
// transition. Scores at or above the threshold pass regardless of retry
// count; below it, the ticket retries until the cap is reached.
func (r Router) Route(score float64, retryCount int) Decision {
	if score >= r.PassThreshold {
		return DecisionPass
	}
	if retryCount >= r.MaxRetries {
		return DecisionEscalate
	}
	return DecisionRetry
}
