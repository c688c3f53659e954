// Package packet implements the Crownstone control packet wire format.
//
// Every command sent to a Crownstone over a control link, and every result
// returned by it, is framed by one of three header variants:
//
//   - Narrow header: type(1) | opcode(1) | length(2), used by legacy firmware.
//   - Extended header: protocol(1) | type(2) | length(2).
//   - Extended result header: protocol(1) | type(2) | result(2) | length(2).
//
// The variant in use is negotiated per link through the Capabilities the
// connection reports (see NegotiateDialect). All multi-byte integers are
// little-endian on the wire.
package packet

// CommandType identifies the operation carried by a control packet.
type CommandType uint16

const (
	CommandSetup                 CommandType = 0
	CommandFactoryReset          CommandType = 1
	CommandGetState              CommandType = 2
	CommandSetState              CommandType = 3
	CommandGetBootloaderVersion  CommandType = 4
	CommandGetUICRData           CommandType = 5
	CommandSetIBeaconConfigID    CommandType = 6
	CommandGetMACAddress         CommandType = 7
	CommandReset                 CommandType = 10
	CommandGotoDFU               CommandType = 11
	CommandNoOperation           CommandType = 12
	CommandDisconnect            CommandType = 13
	CommandSwitch                CommandType = 20
	CommandMultiSwitch           CommandType = 21
	CommandDimmer                CommandType = 22
	CommandRelay                 CommandType = 23
	CommandSetTime               CommandType = 30
	CommandSetSunTime            CommandType = 31
	CommandAllowDimming          CommandType = 32
	CommandLockSwitch            CommandType = 33
	CommandUARTMessage           CommandType = 50
	CommandHubData               CommandType = 51
	CommandSaveBehaviour         CommandType = 60
	CommandReplaceBehaviour      CommandType = 61
	CommandRemoveBehaviour       CommandType = 62
	CommandGetBehaviour          CommandType = 63
	CommandGetBehaviourIndices   CommandType = 64
	CommandGetBehaviourDebug     CommandType = 69
	CommandRegisterTrackedDevice CommandType = 70

	// CommandTypeUnknown is substituted for type codes this package does not
	// recognize. It is never written to the wire.
	CommandTypeUnknown CommandType = 0xFFFF
)

var commandTypeNames = map[CommandType]string{
	CommandSetup:                 "Setup",
	CommandFactoryReset:          "FactoryReset",
	CommandGetState:              "GetState",
	CommandSetState:              "SetState",
	CommandGetBootloaderVersion:  "GetBootloaderVersion",
	CommandGetUICRData:           "GetUICRData",
	CommandSetIBeaconConfigID:    "SetIBeaconConfigID",
	CommandGetMACAddress:         "GetMACAddress",
	CommandReset:                 "Reset",
	CommandGotoDFU:               "GotoDFU",
	CommandNoOperation:           "NoOperation",
	CommandDisconnect:            "Disconnect",
	CommandSwitch:                "Switch",
	CommandMultiSwitch:           "MultiSwitch",
	CommandDimmer:                "Dimmer",
	CommandRelay:                 "Relay",
	CommandSetTime:               "SetTime",
	CommandSetSunTime:            "SetSunTime",
	CommandAllowDimming:          "AllowDimming",
	CommandLockSwitch:            "LockSwitch",
	CommandUARTMessage:           "UARTMessage",
	CommandHubData:               "HubData",
	CommandSaveBehaviour:         "SaveBehaviour",
	CommandReplaceBehaviour:      "ReplaceBehaviour",
	CommandRemoveBehaviour:       "RemoveBehaviour",
	CommandGetBehaviour:          "GetBehaviour",
	CommandGetBehaviourIndices:   "GetBehaviourIndices",
	CommandGetBehaviourDebug:     "GetBehaviourDebug",
	CommandRegisterTrackedDevice: "RegisterTrackedDevice",
}

// String returns a human-readable name for the command type.
func (t CommandType) String() string {
	if name, ok := commandTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// IsValid returns true if the command type is a defined value.
func (t CommandType) IsValid() bool {
	_, ok := commandTypeNames[t]
	return ok
}

// commandTypeFromWire maps a raw type code to a CommandType, substituting
// CommandTypeUnknown for unrecognized codes.
func commandTypeFromWire(v uint16) CommandType {
	t := CommandType(v)
	if !t.IsValid() {
		return CommandTypeUnknown
	}
	return t
}

// Opcode distinguishes reads, writes and results in a narrow header. The
// extended header does not carry it; callers supply it from context.
type Opcode uint8

const (
	OpcodeRead   Opcode = 0
	OpcodeWrite  Opcode = 1
	OpcodeResult Opcode = 2

	// OpcodeUnknown is substituted for unrecognized opcode bytes.
	OpcodeUnknown Opcode = 0xFF
)

// String returns a human-readable name for the opcode.
func (o Opcode) String() string {
	switch o {
	case OpcodeRead:
		return "Read"
	case OpcodeWrite:
		return "Write"
	case OpcodeResult:
		return "Result"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the opcode is a defined value.
func (o Opcode) IsValid() bool {
	return o <= OpcodeResult
}

func opcodeFromWire(v uint8) Opcode {
	o := Opcode(v)
	if !o.IsValid() {
		return OpcodeUnknown
	}
	return o
}

// ResultCode is the status a Crownstone reports in an extended result header.
type ResultCode uint16

const (
	ResultSuccess            ResultCode = 0
	ResultWaitForSuccess     ResultCode = 1
	ResultSuccessNoChange    ResultCode = 2
	ResultBufferUnassigned   ResultCode = 16
	ResultBufferLocked       ResultCode = 17
	ResultBufferTooSmall     ResultCode = 18
	ResultNotAligned         ResultCode = 19
	ResultWrongPayloadLength ResultCode = 32
	ResultWrongParameter     ResultCode = 33
	ResultInvalidMessage     ResultCode = 34
	ResultUnknownOpcode      ResultCode = 35
	ResultUnknownType        ResultCode = 36
	ResultNotFound           ResultCode = 37
	ResultNoSpace            ResultCode = 38
	ResultBusy               ResultCode = 39
	ResultWrongState         ResultCode = 40
	ResultAlreadyExists      ResultCode = 41
	ResultWrongOperation     ResultCode = 42
	ResultNoAccess           ResultCode = 48
	ResultUnsafe             ResultCode = 49
	ResultNotAvailable       ResultCode = 64
	ResultNotImplemented     ResultCode = 65
	ResultNotInitialized     ResultCode = 67
	ResultWriteDisabled      ResultCode = 80
	ResultWriteNotAllowed    ResultCode = 81
	ResultADCInvalidChannel  ResultCode = 96
	ResultEventUnhandled     ResultCode = 112
	ResultUnspecified        ResultCode = 0xFFFF
)

var resultCodeNames = map[ResultCode]string{
	ResultSuccess:            "Success",
	ResultWaitForSuccess:     "WaitForSuccess",
	ResultSuccessNoChange:    "SuccessNoChange",
	ResultBufferUnassigned:   "BufferUnassigned",
	ResultBufferLocked:       "BufferLocked",
	ResultBufferTooSmall:     "BufferTooSmall",
	ResultNotAligned:         "NotAligned",
	ResultWrongPayloadLength: "WrongPayloadLength",
	ResultWrongParameter:     "WrongParameter",
	ResultInvalidMessage:     "InvalidMessage",
	ResultUnknownOpcode:      "UnknownOpcode",
	ResultUnknownType:        "UnknownType",
	ResultNotFound:           "NotFound",
	ResultNoSpace:            "NoSpace",
	ResultBusy:               "Busy",
	ResultWrongState:         "WrongState",
	ResultAlreadyExists:      "AlreadyExists",
	ResultWrongOperation:     "WrongOperation",
	ResultNoAccess:           "NoAccess",
	ResultUnsafe:             "Unsafe",
	ResultNotAvailable:       "NotAvailable",
	ResultNotImplemented:     "NotImplemented",
	ResultNotInitialized:     "NotInitialized",
	ResultWriteDisabled:      "WriteDisabled",
	ResultWriteNotAllowed:    "WriteNotAllowed",
	ResultADCInvalidChannel:  "ADCInvalidChannel",
	ResultEventUnhandled:     "EventUnhandled",
	ResultUnspecified:        "Unspecified",
}

// String returns a human-readable name for the result code.
func (r ResultCode) String() string {
	if name, ok := resultCodeNames[r]; ok {
		return name
	}
	return "Unknown"
}

// IsValid returns true if the result code is a defined value.
// Unlike command types, result codes have no Unknown fallback.
func (r ResultCode) IsValid() bool {
	_, ok := resultCodeNames[r]
	return ok
}

// IsSuccess returns true for results that complete a command successfully.
func (r ResultCode) IsSuccess() bool {
	return r == ResultSuccess || r == ResultSuccessNoChange
}

// HeaderVariant identifies one of the three header layouts.
type HeaderVariant uint8

const (
	VariantNarrow HeaderVariant = iota
	VariantExtended
	VariantExtendedResult
)

// String returns a human-readable name for the header variant.
func (v HeaderVariant) String() string {
	switch v {
	case VariantNarrow:
		return "Narrow"
	case VariantExtended:
		return "Extended"
	case VariantExtendedResult:
		return "ExtendedResult"
	default:
		return "Unknown"
	}
}

// Capability is a feature a connected Crownstone may advertise during
// service discovery.
type Capability uint8

const (
	// CapabilityExtendedHeader indicates the firmware speaks the extended
	// (protocol-tagged) control header.
	CapabilityExtendedHeader Capability = iota

	// CapabilityBehaviourSync indicates the firmware stores behaviours and
	// answers behaviour index queries.
	CapabilityBehaviourSync
)

// String returns a human-readable name for the capability.
func (c Capability) String() string {
	switch c {
	case CapabilityExtendedHeader:
		return "ExtendedHeader"
	case CapabilityBehaviourSync:
		return "BehaviourSync"
	default:
		return "Unknown"
	}
}
