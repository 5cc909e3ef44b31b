package rewards

import (
	"encoding/base32"
	"strings"
	"time"

	"github.com/google/uuid"
)

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// token returns n characters of base32 drawn from random UUIDs.
func token(n int) string {
	var b strings.Builder
	for b.Len() < n {
		id := uuid.New()
		b.WriteString(tokenEncoding.EncodeToString(id[:]))
	}
	return b.String()[:n]
}

// rewardCode formats the human-facing reward code, e.g. RW-260314-K3QZ7A.
func rewardCode(issuedAt time.Time) string {
	return "RW-" + issuedAt.UTC().Format("060102") + "-" + token(6)
}

// discountCode is assigned once at redemption and confirmed at the till.
func discountCode() string {
	return "D-" + token(8)
}
