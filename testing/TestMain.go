// Package testing flips the process into test mode. Importing it for side
// effects is enough; mains then return before dialing Postgres or Redis.
package testing

import (
	"os"
	"path/filepath"
	"sync"
	stdtesting "testing"
)

// defaults are applied only when the variable is unset.
var defaults = map[string]string{
	"ODYSSEY_TEST_MODE": "1",
	"PLUGINS_DIR":       filepath.Join(os.TempDir(), "odyssey-feed-test-plugins"),
	"LOG_LEVEL":         "error",
}

var once sync.Once

// Enable applies the test defaults once per process.
func Enable() {
	once.Do(func() {
		for key, value := range defaults {
			if _, ok := os.LookupEnv(key); !ok {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	Enable()
}

func TestMain(m *stdtesting.M) {
	Enable()
	os.Exit(m.Run())
}
