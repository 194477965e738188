//go:build gapdebug

package gap

// invariantFailed aborts the process when built with the gapdebug tag,
// matching §7's "Programmer (assertion failure, abort the process if in
// debug builds...)".
func invariantFailed(msg string) {
	log.Errorf("invariant violated: %s", msg)
	panic("gap: invariant violated: " + msg)
}
