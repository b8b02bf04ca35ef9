package recovery

import (
	"runtime/debug"

	"github.com/lucky401/codex-autorunner-sub004/internal/logger"
)

// SafeGo runs a function in a goroutine with automatic panic recovery so
// that a single background task cannot take down the whole process.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("🚨 PANIC recovered in goroutine '%s': %v", name, r)
				logger.Errorf("Stack trace:\n%s", debug.Stack())
			}
		}()
		fn()
	}()
}
