// Package vmm implements the VMM coordinator: it consumes instance
// lifecycle events off the "vmm" queue topic, accepts each one only when
// its signer is the instance's owner (Operator and ReadOnly grants are not
// consulted), and drives an opaque hypervisor backend through a small state
// machine.
package vmm

import (
	"fmt"

	"github.com/cuemby/fabric/pkg/types"
)

// Event is a lifecycle event carried as a vmm topic sub-topic byte.
type Event byte

const (
	EventCreate Event = iota
	EventBoot
	EventDelete
	EventStop
	EventReboot
	EventStart
)

func (e Event) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventBoot:
		return "boot"
	case EventDelete:
		return "delete"
	case EventStop:
		return "stop"
	case EventReboot:
		return "reboot"
	case EventStart:
		return "start"
	default:
		return "unknown"
	}
}

// Transition computes the next instance status for (current, event), or an
// error if the transition is illegal. Reboot is not a single transition:
// Coordinator.handle applies it as Stop followed by Start, and Transition
// itself rejects EventReboot as an unknown event.
func Transition(current types.InstanceStatus, event Event) (types.InstanceStatus, error) {
	if event != EventDelete {
		if current == types.InstanceStatusDeleted {
			return current, fmt.Errorf("vmm: instance already deleted")
		}
	}

	switch event {
	case EventCreate:
		if current != "" && current != types.InstanceStatusPending {
			return current, fmt.Errorf("vmm: create invalid from %s", current)
		}
		return types.InstanceStatusPending, nil
	case EventBoot:
		if current != types.InstanceStatusPending {
			return current, fmt.Errorf("vmm: boot invalid from %s", current)
		}
		return types.InstanceStatusRunning, nil
	case EventStop:
		if current != types.InstanceStatusRunning {
			return current, fmt.Errorf("vmm: stop invalid from %s", current)
		}
		return types.InstanceStatusStopped, nil
	case EventStart:
		if current != types.InstanceStatusStopped {
			return current, fmt.Errorf("vmm: start invalid from %s", current)
		}
		return types.InstanceStatusRunning, nil
	case EventDelete:
		if current == types.InstanceStatusRunning {
			return current, fmt.Errorf("vmm: delete invalid while running, stop first")
		}
		return types.InstanceStatusDeleted, nil
	default:
		return current, fmt.Errorf("vmm: unknown event %v", event)
	}
}

// Fail moves any non-terminal instance to Failed; it reports false and
// returns current unchanged when current is already Deleted or Failed.
func Fail(current types.InstanceStatus) (types.InstanceStatus, bool) {
	if current == types.InstanceStatusDeleted || current == types.InstanceStatusFailed {
		return current, false
	}
	return types.InstanceStatusFailed, true
}
