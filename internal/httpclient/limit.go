package httpclient

import (
	"errors"
	"fmt"
	"io"
)

// ResponseTooLargeError is returned when a body read stops at the byte cap.
type ResponseTooLargeError struct {
	Limit int64
}

func (e ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response body larger than %d byte cap", e.Limit)
}

// IsResponseTooLarge reports whether err is a body cap violation.
func IsResponseTooLarge(err error) bool {
	var tooLarge ResponseTooLargeError
	return errors.As(err, &tooLarge)
}

// ReadAllWithLimit drains r but refuses bodies larger than limit bytes.
// A non-positive limit disables the cap.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	// Read one byte past the cap so an exactly-at-cap body is accepted.
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ResponseTooLargeError{Limit: limit}
	}
	return data, nil
}
