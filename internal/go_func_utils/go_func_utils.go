package go_func_utils

import (
	"log"
	"runtime/debug"
)

// SafeGo launches fn on a goroutine that logs a panic with its stack before
// re-panicking. Sensor and transport callbacks run on goroutines whose crash
// output would otherwise be lost behind the watch display.
func SafeGo(logger *log.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC: %v\n%s", r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	}()
}
