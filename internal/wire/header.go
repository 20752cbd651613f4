package wire

import "strings"

// Header is an insertion-ordered mapping from header name to one or
// more string values, where lookup, membership, and deletion are all
// case-insensitive but iteration yields the original-case key that was
// first used to set it. A single logical header can carry more than
// one value (serialized as repeated "Key: value" lines) — this is used
// for the AMI "Variable" header, which Asterisk repeats once per
// channel variable.
type Header struct {
	order  []string
	folded map[string]string   // lower(key) -> original-case key
	values map[string][]string // lower(key) -> values
}

// NewHeader returns an empty Header.
func NewHeader() *Header {
	return &Header{
		folded: make(map[string]string),
		values: make(map[string][]string),
	}
}

func fold(key string) string { return strings.ToLower(key) }

// Set stores a single value for key, overwriting any values already
// present and preserving the original position on overwrite.
func (h *Header) Set(key, value string) {
	k := fold(key)
	if _, ok := h.folded[k]; !ok {
		h.order = append(h.order, k)
		h.folded[k] = key
	}
	h.values[k] = []string{value}
}

// Add appends value to key's value list, turning key into a
// multi-valued header if it wasn't already. Used for repeated headers
// such as AMI's "Variable" lines.
func (h *Header) Add(key, value string) {
	k := fold(key)
	if _, ok := h.folded[k]; !ok {
		h.order = append(h.order, k)
		h.folded[k] = key
		h.values[k] = nil
	}
	h.values[k] = append(h.values[k], value)
}

// Get returns the first value stored for key, case-insensitively.
func (h *Header) Get(key string) (string, bool) {
	vs, ok := h.values[fold(key)]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// GetDefault is like Get but returns def instead of ok=false.
func (h *Header) GetDefault(key, def string) string {
	if v, ok := h.Get(key); ok {
		return v
	}
	return def
}

// Values returns every value stored for key, in the order they were
// added, or nil if key is absent.
func (h *Header) Values(key string) []string {
	return h.values[fold(key)]
}

// Has reports whether key is present, case-insensitively.
func (h *Header) Has(key string) bool {
	_, ok := h.folded[fold(key)]
	return ok
}

// Del removes key, case-insensitively.
func (h *Header) Del(key string) {
	k := fold(key)
	if _, ok := h.folded[k]; !ok {
		return
	}
	delete(h.folded, k)
	delete(h.values, k)
	for i, ok := range h.order {
		if ok == k {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Keys returns every header name in insertion order, using the
// original case each was first set with.
func (h *Header) Keys() []string {
	keys := make([]string, len(h.order))
	for i, k := range h.order {
		keys[i] = h.folded[k]
	}
	return keys
}

// Len returns the number of distinct header names.
func (h *Header) Len() int { return len(h.order) }

// Equal reports whether h and other have the same case-folded keys
// mapping to the same values, in any order.
func (h *Header) Equal(other *Header) bool {
	if h.Len() != other.Len() {
		return false
	}
	for k, vs := range h.values {
		ovs, ok := other.values[k]
		if !ok || len(vs) != len(ovs) {
			return false
		}
		for i := range vs {
			if vs[i] != ovs[i] {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy of h.
func (h *Header) Clone() *Header {
	c := NewHeader()
	for _, k := range h.order {
		orig := h.folded[k]
		for _, v := range h.values[k] {
			c.Add(orig, v)
		}
	}
	return c
}
