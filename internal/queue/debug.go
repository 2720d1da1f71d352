package queue

// debugAssertions turns "can't happen" branches into panics. It is false in
// release builds unless the dmqdebug build tag is set; this package's tests
// switch it on.
var debugAssertions = forceDebug

func debugAssert(cond bool, msg string) {
	if debugAssertions && !cond {
		panic("queue: assertion failed: " + msg)
	}
}
