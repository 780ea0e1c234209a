package ioutil

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrTooLarge is returned by ReadAtMost when the body exceeds the limit.
var ErrTooLarge = errors.New("body exceeds size limit")

// ReadAtMost reads all of r, failing with ErrTooLarge instead of silently
// truncating a body longer than limit bytes.
func ReadAtMost(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w of %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}

// Snippet returns at most max bytes of data for logs and error messages,
// cut on a rune boundary and marked when shortened.
func Snippet(data []byte, max int) string {
	if len(data) <= max {
		return string(data)
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(data[cut]) {
		cut--
	}
	return string(data[:cut]) + "..."
}
