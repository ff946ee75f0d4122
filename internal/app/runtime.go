package app

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// TestModeEnv names the variable that makes binaries skip runtime startup.
const TestModeEnv = "AQAR_TEST_MODE"

const (
	testModeUnknown int32 = iota
	testModeOff
	testModeOn
)

var testMode atomic.Int32

// InTestMode reports whether the application should skip runtime side effects.
// The environment is read on first use.
func InTestMode() bool {
	switch testMode.Load() {
	case testModeOn:
		return true
	case testModeOff:
		return false
	default:
		return RefreshTestMode()
	}
}

// RefreshTestMode re-reads TestModeEnv and returns the new state.
func RefreshTestMode() bool {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(TestModeEnv)))
	if err != nil || !on {
		testMode.Store(testModeOff)
		return false
	}
	testMode.Store(testModeOn)
	return true
}
