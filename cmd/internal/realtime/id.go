package realtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewIdentity returns a ULID used as this overlay's channel identity when
// none is configured. ULIDs sort by creation time, which keeps logs readable.
func NewIdentity(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
