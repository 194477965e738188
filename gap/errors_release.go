//go:build !gapdebug

package gap

// invariantFailed logs and continues in release builds, matching §7's
// "...log+continue in release".
func invariantFailed(msg string) {
	log.Errorf("invariant violated: %s", msg)
}
