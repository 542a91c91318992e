package web

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/example/rsvpd/internal/domain/reservation"
)

const cursorName = "rsvpd_cursor"

// CursorCodec turns keyset cursors into opaque tokens. Tokens are signed and
// encrypted so clients can neither read nor forge a position, and carry a
// digest of the filter they were issued for.
type CursorCodec struct{ sc *securecookie.SecureCookie }

func NewCursorCodec(hashKey, blockKey []byte) *CursorCodec {
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(int((24 * time.Hour).Seconds()))
	return &CursorCodec{sc: sc}
}

type cursorToken struct {
	Start  int64  `json:"s"` // unix microseconds
	ID     int64  `json:"i"`
	Filter string `json:"f"`
}

// filterDigest identifies the predicates of f. Paging fields are excluded so
// a client may change the page size between requests.
func filterDigest(f reservation.Filter) string {
	codes := make([]int, 0, len(f.Statuses))
	for _, st := range f.Statuses {
		codes = append(codes, int(st))
	}
	slices.Sort(codes)
	codes = slices.Compact(codes)

	parts := []string{f.ResourceID, f.RequesterID}
	for _, c := range codes {
		parts = append(parts, strconv.Itoa(c))
	}
	if f.Window != nil {
		parts = append(parts, "w",
			strconv.FormatInt(f.Window.Start.UnixMicro(), 10),
			strconv.FormatInt(f.Window.End.UnixMicro(), 10))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

// Encode issues a token for the position cur within the results of f.
func (c *CursorCodec) Encode(cur reservation.Cursor, f reservation.Filter) (string, error) {
	return c.sc.Encode(cursorName, cursorToken{
		Start:  cur.Start.UnixMicro(),
		ID:     int64(cur.ID),
		Filter: filterDigest(f),
	})
}

// Decode validates token and checks it was issued for the same predicates
// as f.
func (c *CursorCodec) Decode(token string, f reservation.Filter) (reservation.Cursor, error) {
	var v cursorToken
	if err := c.sc.Decode(cursorName, token, &v); err != nil {
		return reservation.Cursor{}, fmt.Errorf("%w: invalid cursor", reservation.ErrInvalidReservation)
	}
	if v.Filter != filterDigest(f) {
		return reservation.Cursor{}, fmt.Errorf("%w: cursor was issued for a different filter", reservation.ErrInvalidReservation)
	}
	return reservation.Cursor{Start: time.UnixMicro(v.Start).UTC(), ID: reservation.ID(v.ID)}, nil
}
