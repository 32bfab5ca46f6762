package device

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultEventLookback is how long a connect event stays relevant.
const DefaultEventLookback = 60 * time.Second

// eventLog keeps recent connect events keyed by device id. Expired entries
// are purged by the detector tick rather than a janitor goroutine.
type eventLog struct {
	c *cache.Cache
}

func newEventLog(lookback time.Duration) *eventLog {
	if lookback <= 0 {
		lookback = DefaultEventLookback
	}
	return &eventLog{c: cache.New(lookback, 0)}
}

// Add records a connect event. A connect stays in the lookback until it
// expires even if the device is removed again, so a stick plugged in and out
// between two polls is still reported. Disconnects are ignored.
func (l *eventLog) Add(ev Event) {
	if ev.Type != EventConnect {
		return
	}
	info := ev.Device
	if info.FirstSeenAt.IsZero() {
		info.FirstSeenAt = ev.At
	}
	l.c.SetDefault(info.ID, info)
}

// Recent returns the devices connected within the lookback.
func (l *eventLog) Recent() []Info {
	l.c.DeleteExpired()
	items := l.c.Items()
	out := make([]Info, 0, len(items))
	for _, item := range items {
		if info, ok := item.Object.(Info); ok {
			out = append(out, info)
		}
	}
	return out
}

// Len returns the number of unexpired events.
func (l *eventLog) Len() int {
	l.c.DeleteExpired()
	return l.c.ItemCount()
}
