package fido

import "errors"

// Device-level errors. Driver implementations wrap these so callers can
// match with errors.Is regardless of the underlying binding.
var (
	ErrNoDevice       = errors.New("no FIDO2 device present")
	ErrDeviceBusy     = errors.New("device is in use by another process")
	ErrInvalidPIN     = errors.New("invalid PIN")
	ErrPINBlocked     = errors.New("PIN is blocked after too many attempts")
	ErrNotFound       = errors.New("credential not found")
	ErrPINAlreadySet  = errors.New("a PIN is already set on this device")
	ErrNoPINSet       = errors.New("no PIN is set on this device")
	ErrPolicyRejected = errors.New("rejected by device policy")
	ErrTransport      = errors.New("device transport failure")
	ErrNotSupported   = errors.New("not supported by this device driver")
)

// Local errors, raised before any device call is made.
var (
	ErrSessionBusy    = errors.New("another operation is already in progress")
	ErrInvalidRequest = errors.New("invalid request")
)

// pinInvalidated reports whether err means the cached PIN (or the device
// identity itself) can no longer be trusted, forcing the session to lock.
func pinInvalidated(err error) bool {
	return errors.Is(err, ErrInvalidPIN) ||
		errors.Is(err, ErrPINBlocked) ||
		errors.Is(err, ErrNoDevice) ||
		errors.Is(err, ErrTransport)
}

// deviceGone reports whether err means no assumption about the connected
// device can be trusted at all.
func deviceGone(err error) bool {
	return errors.Is(err, ErrNoDevice) || errors.Is(err, ErrTransport)
}

// userMessage turns a device or local error into a short human-readable
// string for notifications. PIN values never appear in these messages.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoDevice):
		return "no security key connected"
	case errors.Is(err, ErrDeviceBusy):
		return "the security key is in use by another application"
	case errors.Is(err, ErrInvalidPIN):
		return "the PIN is incorrect"
	case errors.Is(err, ErrPINBlocked):
		return "the PIN is blocked, remove and reinsert the key"
	case errors.Is(err, ErrNotFound):
		return "the credential no longer exists on the device"
	case errors.Is(err, ErrPINAlreadySet):
		return "a PIN is already set on this device"
	case errors.Is(err, ErrNoPINSet):
		return "no PIN is set on this device yet"
	case errors.Is(err, ErrPolicyRejected):
		return "the device rejected the request"
	case errors.Is(err, ErrNotSupported):
		return "the operation is not supported by this device"
	case errors.Is(err, ErrTransport):
		return "communication with the security key failed"
	case err != nil:
		return err.Error()
	default:
		return ""
	}
}
