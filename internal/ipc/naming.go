package ipc

import "fmt"

// DataChannelName returns the shared-memory segment name for one direction
// of one node's data plane, bit-exact with the external naming contract so
// worker processes (which construct these names independently) agree with
// the router.
func DataChannelName(sessionID, nodeID string, output bool) string {
	if output {
		return fmt.Sprintf("%s_%s_output", sessionID, nodeID)
	}
	return fmt.Sprintf("%s_%s_input", sessionID, nodeID)
}

// ControlChannelName returns the control topic name for one node within one
// session.
func ControlChannelName(sessionID, nodeID string) string {
	return fmt.Sprintf("control/%s_%s", sessionID, nodeID)
}
