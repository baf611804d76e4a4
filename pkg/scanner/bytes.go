// Package scanner pulls single fields out of small JSON payloads without
// allocating a full decode. The admin socket uses it to route commands
// before committing to a parse.
package scanner

// ScanStringField returns the raw value of a quoted string field. The
// key must include its quotes, e.g. []byte(`"cmd"`). Escapes inside the
// value are not processed.
func ScanStringField(payload []byte, key []byte) ([]byte, bool) {
	idx := IndexOf(payload, key)
	if idx < 0 {
		return nil, false
	}
	i := idx + len(key)
	for i < len(payload) && payload[i] != ':' {
		i++
	}
	if i >= len(payload) {
		return nil, false
	}
	i++
	for i < len(payload) && IsSpace(payload[i]) {
		i++
	}
	if i >= len(payload) || payload[i] != '"' {
		return nil, false
	}
	i++
	start := i
	for i < len(payload) && payload[i] != '"' {
		i++
	}
	if i >= len(payload) {
		return nil, false
	}
	return payload[start:i], true
}

// IndexOf returns the offset of the first occurrence of key, or -1.
func IndexOf(payload []byte, key []byte) int {
	if len(key) == 0 || len(payload) < len(key) {
		return -1
	}
outer:
	for i := 0; i <= len(payload)-len(key); i++ {
		for j := 0; j < len(key); j++ {
			if payload[i+j] != key[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

// IsSpace reports JSON whitespace.
func IsSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
