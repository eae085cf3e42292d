package types

import "fmt"

// StatusKind enumerates the closed set of node states.
type StatusKind string

const (
	StatusCreating   StatusKind = "creating"
	StatusActive     StatusKind = "active"
	StatusRestarting StatusKind = "restarting"
	StatusStopping   StatusKind = "stopping"
	StatusRemoving   StatusKind = "removing"
	StatusUpgrading  StatusKind = "upgrading"
	StatusRecycling  StatusKind = "recycling"
	StatusInactive   StatusKind = "inactive"
)

// InactiveKind enumerates why a node is not running.
type InactiveKind string

const (
	InactiveCreated     InactiveKind = "created"
	InactiveStopped     InactiveKind = "stopped"
	InactiveStartFailed InactiveKind = "start_failed"
	InactiveExited      InactiveKind = "exited"
	InactiveUnknown     InactiveKind = "unknown"
)

// NodeStatus is the tagged union of node states. Reason and Message are
// only meaningful when Kind is StatusInactive.
type NodeStatus struct {
	Kind    StatusKind   `json:"kind"`
	Reason  InactiveKind `json:"reason,omitempty"`
	Message string       `json:"message,omitempty"`
}

// Constructors for the inactive variants.
func Creating() NodeStatus   { return NodeStatus{Kind: StatusCreating} }
func Active() NodeStatus     { return NodeStatus{Kind: StatusActive} }
func Restarting() NodeStatus { return NodeStatus{Kind: StatusRestarting} }
func Stopping() NodeStatus   { return NodeStatus{Kind: StatusStopping} }
func Removing() NodeStatus   { return NodeStatus{Kind: StatusRemoving} }
func Upgrading() NodeStatus  { return NodeStatus{Kind: StatusUpgrading} }
func Recycling() NodeStatus  { return NodeStatus{Kind: StatusRecycling} }

func Inactive(reason InactiveKind) NodeStatus {
	return NodeStatus{Kind: StatusInactive, Reason: reason}
}

func StartFailed(msg string) NodeStatus {
	return NodeStatus{Kind: StatusInactive, Reason: InactiveStartFailed, Message: msg}
}

func Exited(msg string) NodeStatus {
	return NodeStatus{Kind: StatusInactive, Reason: InactiveExited, Message: msg}
}

func (s NodeStatus) IsCreating() bool   { return s.Kind == StatusCreating }
func (s NodeStatus) IsActive() bool     { return s.Kind == StatusActive }
func (s NodeStatus) IsRestarting() bool { return s.Kind == StatusRestarting }
func (s NodeStatus) IsStopping() bool   { return s.Kind == StatusStopping }
func (s NodeStatus) IsRemoving() bool   { return s.Kind == StatusRemoving }
func (s NodeStatus) IsUpgrading() bool  { return s.Kind == StatusUpgrading }
func (s NodeStatus) IsRecycling() bool  { return s.Kind == StatusRecycling }
func (s NodeStatus) IsInactive() bool   { return s.Kind == StatusInactive }

func (s NodeStatus) IsCreated() bool     { return s.Kind == StatusInactive && s.Reason == InactiveCreated }
func (s NodeStatus) IsStopped() bool     { return s.Kind == StatusInactive && s.Reason == InactiveStopped }
func (s NodeStatus) IsStartFailed() bool { return s.Kind == StatusInactive && s.Reason == InactiveStartFailed }
func (s NodeStatus) IsExited() bool      { return s.Kind == StatusInactive && s.Reason == InactiveExited }

// IsInactiveUnknown reports whether the node exited for a reason the
// supervisor could not determine.
func (s NodeStatus) IsInactiveUnknown() bool {
	return s.Kind == StatusInactive && s.Reason == InactiveUnknown
}

// IsTransitioning reports whether the node is in the middle of an
// in-flight state change.
func (s NodeStatus) IsTransitioning() bool {
	switch s.Kind {
	case StatusCreating, StatusRestarting, StatusStopping, StatusRemoving, StatusUpgrading, StatusRecycling:
		return true
	default:
		return false
	}
}

func (s NodeStatus) String() string {
	switch s.Kind {
	case StatusCreating:
		return "Creating"
	case StatusActive:
		return "Active"
	case StatusRestarting:
		return "Restarting"
	case StatusStopping:
		return "Stopping"
	case StatusRemoving:
		return "Removing"
	case StatusUpgrading:
		return "Upgrading"
	case StatusRecycling:
		return "Recycling"
	case StatusInactive:
		switch s.Reason {
		case InactiveCreated:
			return "Created"
		case InactiveStopped:
			return "Stopped"
		case InactiveStartFailed:
			return fmt.Sprintf("Start failed (%s)", s.Message)
		case InactiveExited:
			if s.Message == "" {
				return "Exited (unknown reason)"
			}
			return fmt.Sprintf("Exited (%s)", s.Message)
		default:
			return "Unknown"
		}
	default:
		return "Unknown"
	}
}
