package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// TestModeEnv names the flag that keeps binaries from dialing Postgres and Redis.
const TestModeEnv = "CASHFLOW_TEST_MODE"

// testMode caches the parsed flag; nil means not read yet.
var testMode atomic.Pointer[bool]

func readTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}

// InTestMode reports whether binaries should skip runtime startup.
func InTestMode() bool {
	if cached := testMode.Load(); cached != nil {
		return *cached
	}
	on := readTestMode()
	testMode.CompareAndSwap(nil, &on)
	return *testMode.Load()
}

// RefreshTestMode re-reads the flag after the environment changed.
func RefreshTestMode() {
	on := readTestMode()
	testMode.Store(&on)
}
