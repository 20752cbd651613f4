package dialer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHangupCauseDisposition(t *testing.T) {
	cases := map[int]string{
		16: "ANSWERED",
		17: "BUSY",
		18: "NOANSWER",
		19: "NOANSWER",
		21: "REJECTED",
		1:  "INVALID",
		27: "FAILED",
		38: "FAILED",
		34: "CONGESTION",
		99: "UNKNOWN",
	}
	for cause, want := range cases {
		assert.Equal(t, want, HangupCauseDisposition(cause), "cause %d", cause)
	}
}

func TestOriginateFailureDisposition(t *testing.T) {
	cases := map[int]string{
		1: "INVALID",
		3: "NOANSWER",
		5: "BUSY",
		8: "CONGESTION",
		0: "FAILED",
	}
	for reason, want := range cases {
		assert.Equal(t, want, OriginateFailureDisposition(reason), "reason %d", reason)
	}
}
