package fido

import (
	"fmt"

	"github.com/picoforge/passkey-agent/internal/logging"
)

// Gateway is the stateless call surface over the device driver. Every call
// opens its own handle and closes it before returning, so the Gateway never
// holds a handle or a PIN between calls. Serialization of calls is the
// Session's responsibility, not the Gateway's.
type Gateway struct {
	driver Driver
}

// NewGateway returns a Gateway backed by the given driver.
func NewGateway(driver Driver) *Gateway {
	return &Gateway{driver: driver}
}

// Info reads the authenticator capability snapshot.
func (g *Gateway) Info() (*Info, error) {
	dev, err := g.driver.Open()
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	info, err := dev.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to read device info: %w", err)
	}
	return info, nil
}

// ListCredentials enumerates all resident credentials using the given PIN.
func (g *Gateway) ListCredentials(pin string) ([]StoredCredential, error) {
	dev, err := g.driver.Open()
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	creds, err := dev.Credentials(pin)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	logging.Debug(logging.CatDevice, "Credentials listed", map[string]any{
		"count": len(creds),
	})
	return creds, nil
}

// DeleteCredential removes one resident credential by its opaque ID.
func (g *Gateway) DeleteCredential(pin, credentialID string) error {
	dev, err := g.driver.Open()
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.DeleteCredential(pin, credentialID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	logging.Info(logging.CatDevice, "Credential deleted", map[string]any{
		"credentialId": credentialID,
	})
	return nil
}

// ChangePIN sets the first device PIN when currentPIN is nil, or changes an
// existing one otherwise.
func (g *Gateway) ChangePIN(currentPIN *string, newPIN string) error {
	dev, err := g.driver.Open()
	if err != nil {
		return err
	}
	defer dev.Close()

	if currentPIN == nil {
		if err := dev.SetPIN(newPIN); err != nil {
			return fmt.Errorf("failed to set PIN: %w", err)
		}
		logging.Info(logging.CatDevice, "PIN set", nil)
		return nil
	}

	if err := dev.ChangePIN(*currentPIN, newPIN); err != nil {
		return fmt.Errorf("failed to change PIN: %w", err)
	}
	logging.Info(logging.CatDevice, "PIN changed", nil)
	return nil
}

// SetMinPINLength updates the device's minimum PIN length policy.
func (g *Gateway) SetMinPINLength(pin string, length int) error {
	dev, err := g.driver.Open()
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.SetMinPINLength(pin, length); err != nil {
		return fmt.Errorf("failed to set minimum PIN length: %w", err)
	}

	logging.Info(logging.CatDevice, "Minimum PIN length updated", map[string]any{
		"length": length,
	})
	return nil
}
