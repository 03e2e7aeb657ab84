package completion

import "testing"

func TestDispatchSkipsNilAndSentinelUserData(t *testing.T) {
	// must not panic / must not misdereference
	Dispatch(0, 0)
	Dispatch(TimeoutSentinel, 0)
}
