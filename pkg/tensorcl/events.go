package tensorcl

import "github.com/orneryd/tensorcl/pkg/opencl"

// waitList builds an event wait list from zero or more possibly-nil
// events, dropping nils.
func waitList(events ...opencl.Event) []opencl.Event {
	var out []opencl.Event
	for _, e := range events {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
