package metrics

// Scheduling metrics
const (
	InterceptionsTotal   = "scheduler_interceptions_total"
	AbandonedTokensTotal = "scheduler_abandoned_tokens_total"
	RateLimitedTotal     = "scheduler_rate_limited_total"
	RelayCallsTotal      = "scheduler_relay_calls_total"
	StatusUpdatesTotal   = "scheduler_status_updates_total"
)

// RecordInterception counts a rewritten send call by surface and outcome.
func RecordInterception(surface, outcome string) {
	inc(InterceptionsTotal, map[string]string{"surface": surface, "outcome": outcome})
}

// RecordAbandonedToken counts tokens dropped by the safety-net timer.
func RecordAbandonedToken() {
	inc(AbandonedTokensTotal, nil)
}

// RecordRateLimited counts calls refused by a rate limiter.
func RecordRateLimited(source string) {
	inc(RateLimitedTotal, map[string]string{"source": source})
}

// RecordRelayCall counts JMAP relay calls by method and status.
func RecordRelayCall(method string, success bool) {
	inc(RelayCallsTotal, map[string]string{"method": method, "status": outcome(success)})
}

// RecordStatusUpdate counts schedule records moved to a new status.
func RecordStatusUpdate(status string) {
	inc(StatusUpdatesTotal, map[string]string{"status": status})
}
