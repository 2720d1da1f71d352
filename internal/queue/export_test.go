package queue

func init() { debugAssertions = true }

// SetDebugAssertions toggles debug assertions and returns a func restoring
// the previous setting.
func SetDebugAssertions(on bool) (restore func()) {
	old := debugAssertions
	debugAssertions = on
	return func() { debugAssertions = old }
}
