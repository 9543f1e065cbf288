package control

import (
	"fmt"
	"sync"
	"time"

	corecontrol "github.com/gridmesh/vpp/core/control"
	"github.com/gridmesh/vpp/core/model"
)

// Client mirrors the core control.Client interface.
type Client = corecontrol.Client

// MockClient acknowledges instructions immediately. It backs tests and
// simulation-only deployments without a broker.
type MockClient struct {
	Instructions map[string]float64
	Actions      map[string]model.InstructionAction
	FailIDs      map[string]bool
	AckResults   map[string]bool
	mu           sync.Mutex
}

// NewMockClient creates a new MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		Instructions: make(map[string]float64),
		Actions:      make(map[string]model.InstructionAction),
		FailIDs:      make(map[string]bool),
		AckResults:   make(map[string]bool),
	}
}

// SendInstruction records the instruction or returns an error if configured
// to fail for the device.
func (m *MockClient) SendInstruction(deviceID string, action model.InstructionAction, powerKW float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[deviceID] {
		return "", fmt.Errorf("publish failed")
	}
	m.Instructions[deviceID] = powerKW
	m.Actions[deviceID] = action
	commandID := fmt.Sprintf("cmd-%s", deviceID)
	m.AckResults[commandID] = true
	return commandID, nil
}

// WaitForAck simulates an immediate acknowledgment based on the stored result.
func (m *MockClient) WaitForAck(commandID string, timeout time.Duration) (bool, error) {
	m.mu.Lock()
	ok, exists := m.AckResults[commandID]
	m.mu.Unlock()
	if !exists {
		return false, fmt.Errorf("unknown command")
	}
	return ok, nil
}
