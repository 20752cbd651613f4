package calls

import "fmt"

// OriginateError is reported to Call.OnCallFailed when Asterisk answers
// an Originate action with a failed OriginateResponse event instead of
// (or after) accepting the action itself. Reason is the numeric value of
// that event's Reason header, not a Q.850 hangup cause code.
type OriginateError struct {
	Reason int
}

func (e *OriginateError) Error() string {
	return fmt.Sprintf("calls: originate failed with reason %d", e.Reason)
}
