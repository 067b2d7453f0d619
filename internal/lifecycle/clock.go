package lifecycle

import "time"

var timeNow = time.Now

// Now is the clock used for created/updated stamps.
func Now() time.Time {
	return timeNow()
}

func SetTimeNowFn(f func() time.Time) {
	timeNow = f
}

func RestoreTimeNow() {
	timeNow = time.Now
}
