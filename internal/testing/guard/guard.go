// Package guard switches binaries into test mode when imported by tests, so
// exercising a main package never dials Postgres or Redis.
package guard

import (
	"os"

	"github.com/odyssey-erp/cashflow/internal/app"
)

func init() {
	Enable()
}

// Enable turns test mode on unless the environment already set the flag.
func Enable() {
	if _, set := os.LookupEnv(app.TestModeEnv); !set {
		_ = os.Setenv(app.TestModeEnv, "1")
	}
	app.RefreshTestMode()
}
