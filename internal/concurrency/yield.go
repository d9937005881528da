// Package concurrency holds the small set of explicit suspension-point
// primitives the cooperative scheduling model (spec.md section 5) relies on.
package concurrency

import "runtime"

// Yield is the explicit cooperative-suspension primitive design note 9
// calls for in place of the source's monkey-patched sleep(0): every
// successful DB Gateway operation, and the router before each targeted
// forward and each fire-and-forget broadcast hop it publishes, calls Yield
// so peer goroutines make progress without introducing an artificial sleep.
func Yield() {
	runtime.Gosched()
}
