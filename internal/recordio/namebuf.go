package recordio

import (
	"bytes"
	"fmt"
)

// PutName writes s into buf, NUL-padded, truncation-checked. buf must
// already be the fixed field width.
func PutName(buf []byte, s string) error {
	if len(s) > len(buf) {
		return fmt.Errorf("recordio: name %q exceeds field width %d", s, len(buf))
	}

	for i := range buf {
		buf[i] = 0
	}

	copy(buf, s)

	return nil
}

// GetName reads a NUL-padded fixed-width field back into a string, cutting
// at the first NUL byte (or the full width if unterminated).
func GetName(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}

	return string(buf)
}
