package util

import (
	"errors"
	"fmt"
	"io"
)

// MaxResponseBytes caps how much of an upstream response body is read.
const MaxResponseBytes = 1 << 20

var ErrBodyTooLarge = errors.New("body too large")

// ReadLimited reads r fully, failing once more than limit bytes arrive.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return b, nil
}
