package fido

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	libfido2 "github.com/keys-pub/go-libfido2"
)

// LibFIDO2Driver is the production Driver over the libfido2 bindings. The
// CTAP2 wire protocol, HID framing and PIN protocol negotiation all live in
// the library; this adapter only maps types and errors.
type LibFIDO2Driver struct{}

// NewLibFIDO2Driver returns the production driver.
func NewLibFIDO2Driver() *LibFIDO2Driver {
	return &LibFIDO2Driver{}
}

// Open connects to the first enumerable authenticator.
func (LibFIDO2Driver) Open() (Device, error) {
	locs, err := libfido2.DeviceLocations()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if len(locs) == 0 {
		return nil, ErrNoDevice
	}

	dev, err := libfido2.NewDevice(locs[0].Path)
	if err != nil {
		return nil, mapLibfido2Err(err)
	}
	return &libfido2Device{dev: dev}, nil
}

type libfido2Device struct {
	dev *libfido2.Device
}

func (d *libfido2Device) Info() (*Info, error) {
	di, err := d.dev.Info()
	if err != nil {
		return nil, mapLibfido2Err(err)
	}

	info := &Info{
		Options:  make(map[string]bool, len(di.Options)),
		Versions: di.Versions,
		AAGUID:   hex.EncodeToString(di.AAGUID),
		// The bindings do not surface the CTAP2.1 minPINLength field, so
		// report the protocol floor.
		MinPINLength: MinPINLengthFloor,
	}
	for _, opt := range di.Options {
		info.Options[opt.Name] = opt.Value == libfido2.True
	}
	return info, nil
}

func (d *libfido2Device) Credentials(pin string) ([]StoredCredential, error) {
	rps, err := d.dev.RelyingParties(pin)
	if err != nil {
		return nil, mapLibfido2Err(err)
	}

	var out []StoredCredential
	for _, rp := range rps {
		creds, err := d.dev.Credentials(rp.ID, pin)
		if err != nil {
			return nil, mapLibfido2Err(err)
		}
		for _, c := range creds {
			out = append(out, StoredCredential{
				CredentialID: base64.RawURLEncoding.EncodeToString(c.ID),
				RPID:         rp.ID,
				RPName:       rp.Name,
				UserName:     c.User.Name,
			})
		}
	}
	return out, nil
}

func (d *libfido2Device) DeleteCredential(pin, credentialID string) error {
	id, err := base64.RawURLEncoding.DecodeString(credentialID)
	if err != nil {
		return fmt.Errorf("%w: malformed credential ID", ErrNotFound)
	}
	if err := d.dev.DeleteCredential(id, pin); err != nil {
		return mapLibfido2Err(err)
	}
	return nil
}

func (d *libfido2Device) SetPIN(newPIN string) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	if info.HasPIN() {
		return ErrPINAlreadySet
	}
	if err := d.dev.SetPIN(newPIN, ""); err != nil {
		return mapLibfido2Err(err)
	}
	return nil
}

func (d *libfido2Device) ChangePIN(currentPIN, newPIN string) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	if !info.HasPIN() {
		return ErrNoPINSet
	}
	if err := d.dev.SetPIN(newPIN, currentPIN); err != nil {
		return mapLibfido2Err(err)
	}
	return nil
}

func (d *libfido2Device) SetMinPINLength(pin string, length int) error {
	// libfido2's authenticatorConfig surface is not exposed by the Go
	// bindings. The operation is available against drivers that support it
	// (and in tests); here it has to be refused honestly.
	return fmt.Errorf("%w: authenticatorConfig is not exposed by the libfido2 bindings", ErrNotSupported)
}

func (d *libfido2Device) Close() error {
	// The bindings open and close the underlying HID handle per operation;
	// there is nothing to release here.
	return nil
}

// mapLibfido2Err translates binding errors onto the package taxonomy.
func mapLibfido2Err(err error) error {
	switch {
	case errors.Is(err, libfido2.ErrPinInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidPIN, err)
	case errors.Is(err, libfido2.ErrPinAuthBlocked):
		return fmt.Errorf("%w: %v", ErrPINBlocked, err)
	case errors.Is(err, libfido2.ErrPinPolicyViolation):
		return fmt.Errorf("%w: %v", ErrPolicyRejected, err)
	case errors.Is(err, libfido2.ErrNoCredentials):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
}
