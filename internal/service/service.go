// Package service manages per-user autostart registration for the agent:
// XDG autostart on Linux, a LaunchAgent on macOS and a Run registry key on
// Windows.
package service

import "errors"

var (
	ErrAlreadyInstalled = errors.New("service is already installed")
	ErrNotInstalled     = errors.New("service is not installed")
)

// Service manages the agent's autostart registration.
type Service interface {
	Install() error
	Uninstall() error
	IsInstalled() bool
	Status() (string, error)
}
