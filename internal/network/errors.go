package network

import "errors"

var (
	// ErrProvisioningFailed is returned when no usable address appears in time.
	ErrProvisioningFailed = errors.New("network: provisioning failed")

	// ErrBrokerNotFound is returned when discovery ends without a broker.
	ErrBrokerNotFound = errors.New("network: no broker found")

	// ErrInterfaceNotFound is returned when the configured interface does not exist.
	ErrInterfaceNotFound = errors.New("network: interface not found")
)
