package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// TestModeEnv is set by the shared testing package so binaries built into a
// test run do not dial Postgres or Redis.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeOnce sync.Once
)

func loadTestMode() {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	testMode.Store(on)
}

// InTestMode reports whether mains should return before wiring anything.
func InTestMode() bool {
	testModeOnce.Do(loadTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads the environment flag.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	loadTestMode()
}
