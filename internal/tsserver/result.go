package tsserver

// Outcome tags the disposition of an executed request.
type Outcome int

const (
	// OutcomeResponse means the server answered. Response is set; check
	// Response.Success for the server's verdict.
	OutcomeResponse Outcome = iota + 1

	// OutcomeCancelled means the request was cancelled before the server
	// answered. Reason names the trigger.
	OutcomeCancelled

	// OutcomeNoContent means the server reported "No content available.",
	// a successful empty result. Response is set.
	OutcomeNoContent

	// OutcomeNoServer means no server was available to answer: the session
	// died with the request pending, or none was running when it was made.
	OutcomeNoServer
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeResponse:
		return "response"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeNoContent:
		return "no-content"
	case OutcomeNoServer:
		return "no-server"
	default:
		return "unknown"
	}
}

// ExecResult is the disposition of one executed request.
// Exactly one of Response or Reason carries detail, per the Outcome tag.
type ExecResult struct {
	Outcome  Outcome
	Response *Response
	Reason   string
}

func responseResult(resp *Response) ExecResult {
	if resp.IsNoContent() {
		return ExecResult{Outcome: OutcomeNoContent, Response: resp}
	}
	return ExecResult{Outcome: OutcomeResponse, Response: resp}
}

func cancelledResult(reason string) ExecResult {
	return ExecResult{Outcome: OutcomeCancelled, Reason: reason}
}

func noServerResult(reason string) ExecResult {
	return ExecResult{Outcome: OutcomeNoServer, Reason: reason}
}
