// Package guard prepares the process environment for tests when imported:
// binaries see test mode and token configuration has a secret.
package guard

import "os"

func init() {
	setDefault("AQAR_TEST_MODE", "1")
	setDefault("JWT_SECRET", "test-secret")
}

func setDefault(key, value string) {
	if _, ok := os.LookupEnv(key); !ok {
		_ = os.Setenv(key, value)
	}
}
