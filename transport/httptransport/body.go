package httptransport

import (
	"errors"
	"io"
)

// errBodyTooLarge is returned once a response body exceeds the configured limit.
var errBodyTooLarge = errors.New("response body exceeds maximum size limit")

// maxBodyReader fails instead of truncating when the limit is reached, so an
// oversized response never reaches the JSON decoder half read.
type maxBodyReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
}

func (r *maxBodyReader) Read(p []byte) (int, error) {
	if r.consumed >= r.limit {
		return 0, errBodyTooLarge
	}

	maxRead := r.limit - r.consumed
	if int64(len(p)) > maxRead {
		p = p[:maxRead]
	}

	n, err := r.reader.Read(p)
	r.consumed += int64(n)

	if r.consumed >= r.limit && err == nil {
		// at the limit: one more byte means the body is too large
		var probe [1]byte
		if m, _ := r.reader.Read(probe[:]); m > 0 {
			return n, errBodyTooLarge
		}
	}
	return n, err
}

func readBody(body io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(&maxBodyReader{reader: body, limit: limit})
}
