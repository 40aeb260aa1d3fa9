package store

import "errors"

var (
	// ErrConnectionNotFound is returned when an entity routes to a connection name
	// that is not present in Config.Connections.
	ErrConnectionNotFound = errors.New("weave: connection not found")

	// ErrDriverNotInstalled is returned when no driver factory is registered, or
	// when a connection names a driver that has no factory.
	ErrDriverNotInstalled = errors.New("weave: driver not installed")

	// ErrInvalidConnectionDriver is returned when the read and write connections
	// of an entity use different drivers.
	ErrInvalidConnectionDriver = errors.New("weave: read and write connection drivers differ")

	// ErrUnknownField is returned when a row is asked for a field it does not carry.
	ErrUnknownField = errors.New("weave: unknown field")

	// ErrNotFound is returned by drivers for write operations that target no row.
	ErrNotFound = errors.New("weave: entity not found")

	// ErrAlreadyExists is returned when creating a row whose id is already taken.
	ErrAlreadyExists = errors.New("weave: entity already exists")

	// ErrUnsupported is returned by drivers for operations their backend cannot serve.
	ErrUnsupported = errors.New("weave: operation not supported by driver")
)
