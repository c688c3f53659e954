// Package broadcast turns queued commands into connectionless advertisements.
//
// Commands are collected in a Queue, packed into size-bounded Advertisements
// and sealed by an Encoder into a service-UUID header plus an encrypted
// 16-byte body. A Broadcaster drains the queue on a fixed interval and hands
// the frames to an external Advertiser.
package broadcast

// CommandType identifies the kind of a queued command.
type CommandType uint8

const (
	// CommandSwitch sets the switch state of one Crownstone. Switch commands
	// are packed together into a multi-switch list.
	CommandSwitch CommandType = iota
	// CommandSetTime broadcasts the sphere time. One per advertisement.
	CommandSetTime
	// CommandBehaviourSettings toggles behaviour handling. One per advertisement.
	CommandBehaviourSettings
)

// String returns the command type name.
func (t CommandType) String() string {
	switch t {
	case CommandSwitch:
		return "Switch"
	case CommandSetTime:
		return "SetTime"
	case CommandBehaviourSettings:
		return "BehaviourSettings"
	default:
		return "Unknown"
	}
}

// IsValid returns true if t is a known command type.
func (t CommandType) IsValid() bool {
	return t <= CommandBehaviourSettings
}

// batched returns true if commands of this type share one list payload.
func (t CommandType) batched() bool {
	return t == CommandSwitch
}

// advertisementType maps a command type to the advertisement carrying it.
func (t CommandType) advertisementType() AdvertisementType {
	switch t {
	case CommandSwitch:
		return AdvertisementMultiSwitch
	case CommandSetTime:
		return AdvertisementSetTime
	case CommandBehaviourSettings:
		return AdvertisementBehaviourSettings
	default:
		return AdvertisementNoOp
	}
}

// AdvertisementType is the type byte of an advertisement body.
type AdvertisementType uint8

const (
	AdvertisementNoOp              AdvertisementType = 0
	AdvertisementMultiSwitch       AdvertisementType = 1
	AdvertisementSetTime           AdvertisementType = 2
	AdvertisementBehaviourSettings AdvertisementType = 3
)

// String returns the advertisement type name.
func (t AdvertisementType) String() string {
	switch t {
	case AdvertisementNoOp:
		return "NoOp"
	case AdvertisementMultiSwitch:
		return "MultiSwitch"
	case AdvertisementSetTime:
		return "SetTime"
	case AdvertisementBehaviourSettings:
		return "BehaviourSettings"
	default:
		return "Unknown"
	}
}

// IsValid returns true if t is a known advertisement type.
func (t AdvertisementType) IsValid() bool {
	return t <= AdvertisementBehaviourSettings
}

// MaxSize returns the largest encoded body, timestamp and type included,
// that an advertisement of this type may have.
func (t AdvertisementType) MaxSize() int {
	if t == AdvertisementNoOp {
		return bodyHeaderSize
	}
	return BodySize
}

// PayloadBudget returns the bytes left for the payload after the timestamp
// and type byte.
func (t AdvertisementType) PayloadBudget() int {
	return t.MaxSize() - bodyHeaderSize
}

// AccessLevel is the sphere role of the sender, carried in the header.
type AccessLevel uint8

const (
	AccessAdmin  AccessLevel = 0
	AccessMember AccessLevel = 1
	AccessBasic  AccessLevel = 2
)

// String returns the access level name.
func (a AccessLevel) String() string {
	switch a {
	case AccessAdmin:
		return "Admin"
	case AccessMember:
		return "Member"
	case AccessBasic:
		return "Basic"
	default:
		return "Unknown"
	}
}

// IsValid returns true if a is a known access level.
func (a AccessLevel) IsValid() bool {
	return a <= AccessBasic
}
