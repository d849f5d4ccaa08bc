package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/chromedp/cdproto/cdp"
)

// clippedBody is a response body cut to the capture limit.
type clippedBody struct {
	Data         []byte
	OriginalSize int
	// SHA256 of the full body, set only when Data was cut.
	SHA256 string
}

func (c clippedBody) Clipped() bool { return c.SHA256 != "" }

// clipBody keeps at most limit bytes of body. A non-positive limit keeps all.
func clipBody(body []byte, limit int) clippedBody {
	out := clippedBody{Data: body, OriginalSize: len(body)}
	if limit <= 0 || len(body) <= limit {
		return out
	}
	sum := sha256.Sum256(body)
	out.Data = body[:limit]
	out.SHA256 = hex.EncodeToString(sum[:])
	return out
}

func monotonic(t *cdp.MonotonicTime) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.Time()
}
