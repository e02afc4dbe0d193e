package codec

import "github.com/joomcode/errorx"

// Errors is the namespace of all codec errors.
var Errors = errorx.NewNamespace("codec")

var (
	// ErrUnknownTypeTag means a tag has no registry entry. It indicates that
	// the registries on the two sides of a port have drifted apart.
	ErrUnknownTypeTag = Errors.NewType("unknown_type_tag")
	// ErrDuplicateRegistration is returned when a tag or type is registered twice.
	ErrDuplicateRegistration = Errors.NewType("duplicate_registration")
	// ErrTypeMismatch is returned when a wire value cannot be decoded into the target type.
	ErrTypeMismatch = Errors.NewType("type_mismatch")
	// ErrReservedKey is returned when a plain map uses a key reserved by the wire format.
	ErrReservedKey = Errors.NewType("reserved_key")
	// ErrUnsupported is returned for values the wire format cannot carry.
	ErrUnsupported = Errors.NewType("unsupported")
	// ErrDanglingRef is returned when a $ref points at an unknown $id.
	ErrDanglingRef = Errors.NewType("dangling_ref")
)

// ErrRegistryMismatch is returned by Registry.Compatible when a peer registry
// cannot restore what this side tags.
var ErrRegistryMismatch = Errors.NewType("registry_mismatch")
