package fido

// Driver opens a handle to the first enumerable FIDO2 authenticator.
// Implementations must return ErrNoDevice when none is present and
// ErrDeviceBusy when another process holds the handle.
type Driver interface {
	Open() (Device, error)
}

// Device is a connected authenticator handle. All PIN-gated calls take the
// PIN explicitly; implementations never retain it between calls.
// This allows for dependency injection and mocking in tests.
type Device interface {
	Info() (*Info, error)
	Credentials(pin string) ([]StoredCredential, error)
	DeleteCredential(pin string, credentialID string) error
	SetPIN(newPIN string) error
	ChangePIN(currentPIN, newPIN string) error
	SetMinPINLength(pin string, length int) error
	Close() error
}

// StoredCredential is a resident credential as reported by the device.
// Immutable once fetched; equality is by CredentialID.
type StoredCredential struct {
	CredentialID string `json:"credentialId"` // opaque, base64url of the device-assigned ID
	RPID         string `json:"rpId"`
	RPName       string `json:"rpName"`
	UserName     string `json:"userName"`
}

// Info is a read-only snapshot of authenticator capabilities. It is never
// mutated, only replaced wholesale when the device connection changes.
type Info struct {
	Options      map[string]bool `json:"options"`
	MinPINLength int             `json:"minPinLength"`
	AAGUID       string          `json:"aaguid,omitempty"`
	Versions     []string        `json:"versions,omitempty"`
	Product      string          `json:"product,omitempty"`
}

// HasPIN reports whether a client PIN is currently configured.
func (i *Info) HasPIN() bool {
	return i != nil && i.Options["clientPin"]
}

// clone returns a deep copy so callers can hand snapshots out freely.
func (i *Info) clone() *Info {
	if i == nil {
		return nil
	}
	c := *i
	c.Options = make(map[string]bool, len(i.Options))
	for k, v := range i.Options {
		c.Options[k] = v
	}
	c.Versions = append([]string(nil), i.Versions...)
	return &c
}
