package rws

import (
	"fmt"
	"strings"
)

// Priority is the subscription priority requested for a resource.
type Priority int

const (
	// PriorityLow delivers on the controller's background cadence.
	PriorityLow Priority = 0
	// PriorityMedium is the default for most resources.
	PriorityMedium Priority = 1
	// PriorityHigh is only honored for I/O signals and persistent variables.
	PriorityHigh Priority = 2
)

// Resource identifies one subscribable controller resource.
type Resource struct {
	// Path is the controller resource URI, including any state qualifier
	// after a semicolon (for example "/rw/panel/ctrlstate" or
	// "/rw/iosystem/signals/Local/DRV_1/DO1;state").
	Path     string
	Priority Priority
}

// Key returns the routing key for the resource: the path without its
// state qualifier. Push payloads reference resources both with and
// without the qualifier, so routing ignores it.
func (r Resource) Key() string {
	return resourceKey(r.Path)
}

func resourceKey(path string) string {
	if i := strings.IndexByte(path, ';'); i >= 0 {
		return path[:i]
	}
	return path
}

// ControllerStateResource subscribes to controller state changes.
func ControllerStateResource() Resource {
	return Resource{Path: "/rw/panel/ctrlstate", Priority: PriorityMedium}
}

// OperationalModeResource subscribes to operational mode changes.
func OperationalModeResource() Resource {
	return Resource{Path: "/rw/panel/opmode", Priority: PriorityMedium}
}

// ExecutionStateResource subscribes to RAPID execution state changes.
func ExecutionStateResource() Resource {
	return Resource{Path: "/rw/rapid/execution;ctrlexecstate", Priority: PriorityMedium}
}

// SignalResource subscribes to an I/O signal state. High priority is
// honored for signals.
func SignalResource(network, unit, signal string) Resource {
	if network == "" {
		network = "Local"
	}
	if unit == "" {
		unit = "DRV_1"
	}
	return Resource{
		Path:     fmt.Sprintf("/rw/iosystem/signals/%s/%s/%s;state", network, unit, signal),
		Priority: PriorityHigh,
	}
}

// RapidVariableResource subscribes to a RAPID persistent variable value.
// An empty task subscribes to a module-level symbol.
func RapidVariableResource(task, name string) Resource {
	symbol := name
	if task != "" {
		symbol = task + "/" + name
	}
	return Resource{
		Path:     fmt.Sprintf("/rw/rapid/symbol/data/RAPID/%s;value", symbol),
		Priority: PriorityHigh,
	}
}

// IpcQueueResource subscribes to messages on an IPC queue.
func IpcQueueResource(queue string) Resource {
	return Resource{Path: "/rw/dipc/" + queue, Priority: PriorityMedium}
}

// EventLogResource subscribes to controller event log domain 0.
func EventLogResource() Resource {
	return Resource{Path: "/rw/elog/0", Priority: PriorityMedium}
}
