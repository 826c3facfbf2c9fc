package battery_test

import "time"

var fixedTime = time.UnixMilli(1_700_000_000_000)
