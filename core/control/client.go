// Package control defines the boundary to device control channels. Real
// hardware delivery is out of scope; implementations simulate or relay the
// instruction.
package control

import (
	"errors"
	"time"

	"github.com/gridmesh/vpp/core/model"
)

// ErrAckTimeout indicates no acknowledgment arrived within the deadline.
var ErrAckTimeout = errors.New("ack timeout")

// Client publishes dispatch instructions to devices and collects
// acknowledgments.
type Client interface {
	// SendInstruction publishes one instruction and returns a command id
	// used to match the acknowledgment.
	SendInstruction(deviceID string, action model.InstructionAction, powerKW float64) (string, error)
	// WaitForAck blocks until the command is acknowledged or the timeout
	// elapses.
	WaitForAck(commandID string, timeout time.Duration) (bool, error)
}
