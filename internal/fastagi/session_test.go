package fastagi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimAudioExt(t *testing.T) {
	assert.Equal(t, "/sounds/bienvenida", trimAudioExt("/sounds/bienvenida.wav"))
	assert.Equal(t, "/sounds/bienvenida", trimAudioExt("/sounds/bienvenida.gsm"))
	assert.Equal(t, "/sounds/bienvenida", trimAudioExt("/sounds/bienvenida"))
}

func TestMapCallStatusToContactStatus(t *testing.T) {
	cases := map[string]string{
		"XFER": "completed",
		"A":    "completed",
		"AM":   "failed",
		"NA":   "failed",
		"N":    "failed",
		"B":    "failed",
		"FAIL": "failed",
		"CONG": "failed",
		"NI":   "failed",
		"DNC":  "failed",
		"WHAT": "completed",
	}
	for disposition, want := range cases {
		assert.Equal(t, want, mapCallStatusToContactStatus(disposition), "disposition %s", disposition)
	}
}
