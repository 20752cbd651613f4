package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeader_CaseInsensitiveLookup(t *testing.T) {
	h := NewHeader()
	h.Set("AMIversion", "1.1")
	v, ok := h.Get("amiversion")
	assert.True(t, ok)
	assert.Equal(t, "1.1", v)
	v, ok = h.Get("AmiVersion")
	assert.True(t, ok)
	assert.Equal(t, "1.1", v)
	assert.True(t, h.Has("aMiVeRsIoN"))
}

func TestHeader_PreservesOriginalCaseOnIteration(t *testing.T) {
	h := NewHeader()
	h.Set("ActionID", "1234")
	h.Set("Response", "Success")
	assert.Equal(t, []string{"ActionID", "Response"}, h.Keys())
}

func TestHeader_SetOverwritesInPlace(t *testing.T) {
	h := NewHeader()
	h.Set("A", "1")
	h.Set("B", "2")
	h.Set("A", "3")
	assert.Equal(t, []string{"A", "B"}, h.Keys())
	v, _ := h.Get("A")
	assert.Equal(t, "3", v)
}

func TestHeader_MultiValue(t *testing.T) {
	h := NewHeader()
	h.Add("Variable", "FOO=bar")
	h.Add("Variable", "BAZ=qux")
	assert.Equal(t, []string{"FOO=bar", "BAZ=qux"}, h.Values("Variable"))
	v, ok := h.Get("variable")
	assert.True(t, ok)
	assert.Equal(t, "FOO=bar", v)
}

func TestHeader_Del(t *testing.T) {
	h := NewHeader()
	h.Set("A", "1")
	h.Set("B", "2")
	h.Del("a")
	assert.False(t, h.Has("A"))
	assert.Equal(t, []string{"B"}, h.Keys())
}

func TestHeader_Equal(t *testing.T) {
	h1 := NewHeader()
	h1.Set("A", "1")
	h1.Add("V", "x")
	h1.Add("V", "y")

	h2 := NewHeader()
	h2.Set("a", "1")
	h2.Add("v", "x")
	h2.Add("v", "y")

	assert.True(t, h1.Equal(h2))

	h2.Set("a", "2")
	assert.False(t, h1.Equal(h2))
}
