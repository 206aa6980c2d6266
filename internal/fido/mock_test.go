package fido

import (
	"sync"
)

// MockDriver implements Driver for testing
type MockDriver struct {
	mu      sync.Mutex
	device  *MockDevice
	openErr error
	opens   int
}

// NewMockDriver creates a driver with a default device attached
func NewMockDriver() *MockDriver {
	return &MockDriver{device: NewMockDevice()}
}

// WithDevice sets the device returned by Open
func (m *MockDriver) WithDevice(d *MockDevice) *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = d
	return m
}

// WithOpenError makes Open fail with the given error
func (m *MockDriver) WithOpenError(err error) *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
	return m
}

func (m *MockDriver) Open() (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m.device, nil
}

// Opens returns how many times Open was called
func (m *MockDriver) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// MockDevice implements Device for testing
type MockDevice struct {
	mu           sync.Mutex
	pin          string
	creds        []StoredCredential
	info         *Info
	minPINLength int

	infoErr   error
	listErr   error
	relistErr error
	deleteErr error
	pinErr    error

	listGate  chan struct{}
	listCalls int
	closes    int
}

// NewMockDevice creates a device with a set PIN and two resident credentials
func NewMockDevice() *MockDevice {
	return &MockDevice{
		pin:          "123456",
		minPINLength: 4,
		creds: []StoredCredential{
			{CredentialID: "cred-github", RPID: "github.com", RPName: "GitHub", UserName: "octocat"},
			{CredentialID: "cred-example", RPID: "example.org", RPName: "Example", UserName: "alice"},
		},
		info: &Info{
			Options:      map[string]bool{"clientPin": true, "credMgmt": true},
			MinPINLength: 4,
			AAGUID:       "2fc0579f811347eab116bb5a8db9202a",
			Versions:     []string{"FIDO_2_0", "FIDO_2_1"},
		},
	}
}

// WithPIN sets the device PIN ("" means no PIN configured yet)
func (m *MockDevice) WithPIN(pin string) *MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pin = pin
	return m
}

// WithCredentials replaces the resident credential set
func (m *MockDevice) WithCredentials(creds []StoredCredential) *MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = creds
	return m
}

// WithInfoError makes Info fail
func (m *MockDevice) WithInfoError(err error) *MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoErr = err
	return m
}

// WithListError makes every Credentials call fail
func (m *MockDevice) WithListError(err error) *MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
	return m
}

// WithRelistError makes Credentials fail from the second call onwards
func (m *MockDevice) WithRelistError(err error) *MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relistErr = err
	return m
}

// WithDeleteError makes DeleteCredential fail
func (m *MockDevice) WithDeleteError(err error) *MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
	return m
}

// WithPINError makes SetPIN and ChangePIN fail
func (m *MockDevice) WithPINError(err error) *MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinErr = err
	return m
}

// WithListGate makes Credentials block until the gate channel is closed
func (m *MockDevice) WithListGate(gate chan struct{}) *MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listGate = gate
	return m
}

func (m *MockDevice) Info() (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.infoErr != nil {
		return nil, m.infoErr
	}
	info := m.info.clone()
	info.MinPINLength = m.minPINLength
	info.Options["clientPin"] = m.pin != ""
	return info, nil
}

func (m *MockDevice) Credentials(pin string) ([]StoredCredential, error) {
	m.mu.Lock()
	gate := m.listGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	if m.relistErr != nil && m.listCalls > 1 {
		return nil, m.relistErr
	}
	if m.pin == "" {
		return nil, ErrNoPINSet
	}
	if pin != m.pin {
		return nil, ErrInvalidPIN
	}
	out := make([]StoredCredential, len(m.creds))
	copy(out, m.creds)
	return out, nil
}

func (m *MockDevice) DeleteCredential(pin, credentialID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if pin != m.pin {
		return ErrInvalidPIN
	}
	for i, c := range m.creds {
		if c.CredentialID == credentialID {
			m.creds = append(m.creds[:i], m.creds[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MockDevice) SetPIN(newPIN string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pinErr != nil {
		return m.pinErr
	}
	if m.pin != "" {
		return ErrPINAlreadySet
	}
	if len(newPIN) < m.minPINLength {
		return ErrPolicyRejected
	}
	m.pin = newPIN
	return nil
}

func (m *MockDevice) ChangePIN(currentPIN, newPIN string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pinErr != nil {
		return m.pinErr
	}
	if m.pin == "" {
		return ErrNoPINSet
	}
	if currentPIN != m.pin {
		return ErrInvalidPIN
	}
	if len(newPIN) < m.minPINLength {
		return ErrPolicyRejected
	}
	m.pin = newPIN
	return nil
}

func (m *MockDevice) SetMinPINLength(pin string, length int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pin != m.pin {
		return ErrInvalidPIN
	}
	if length < m.minPINLength {
		// Authenticators refuse to weaken an already enforced policy
		return ErrPolicyRejected
	}
	m.minPINLength = length
	return nil
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// Closes returns how many times Close was called
func (m *MockDevice) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// ListCalls returns how many times Credentials was called
func (m *MockDevice) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

// MinPINLength returns the device's current minimum PIN length policy
func (m *MockDevice) MinPINLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minPINLength
}

// PIN returns the device's current PIN
func (m *MockDevice) PIN() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pin
}
