// Package clock provides the single source of monotonic timestamps and
// signal identifiers used throughout the bridge, so every package measures
// elapsed time and names signals consistently (module A).
package clock

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Clock hands out millisecond timestamps. A real Clock wraps time.Now; tests
// use a fake Clock to control elapsed time deterministically.
type Clock interface {
	NowMS() int64
}

// System is the production Clock backed by the wall clock.
type System struct{}

// NowMS returns the current Unix time in milliseconds.
func (System) NowMS() int64 {
	return time.Now().UnixMilli()
}

// seq disambiguates signal IDs minted within the same millisecond.
var seq uint32

// NewSignalID mints a signal identifier of the form "<slug>-<ts>-<seq>".
// IDs are used as the idempotency key for execution (buy:<id>, sell:<id>),
// so they must be unique per watchlist admission, not globally random.
func NewSignalID(ts int64, slug string) string {
	n := atomic.AddUint32(&seq, 1)
	return fmt.Sprintf("%s-%d-%d", slug, ts, n)
}
