package dialer

// HangupCauseDisposition maps an AMI/Q.931 hangup cause code to the
// call_log disposition the rest of the system stores. Unknown causes
// fall back to "UNKNOWN" rather than failing the update.
func HangupCauseDisposition(cause int) string {
	switch cause {
	case 16: // Normal Clearing
		return "ANSWERED"
	case 17: // User Busy
		return "BUSY"
	case 18, 19: // No User Responding / No Answer
		return "NOANSWER"
	case 21: // Call Rejected
		return "REJECTED"
	case 1: // Unallocated Number
		return "INVALID"
	case 27, 38: // Destination / Network Out of Order
		return "FAILED"
	case 34: // No Circuit/Channel Available
		return "CONGESTION"
	default:
		return "UNKNOWN"
	}
}

// OriginateFailureDisposition maps an OriginateResponse failure reason
// (the "Reason" header on a Failure response) the same way.
func OriginateFailureDisposition(reason int) string {
	switch reason {
	case 1: // channel/extension did not exist
		return "INVALID"
	case 3: // ring timeout
		return "NOANSWER"
	case 5: // busy
		return "BUSY"
	case 8: // congestion
		return "CONGESTION"
	default:
		return "FAILED"
	}
}
