//go:build windows

package service

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows/registry"
)

const runKeyName = "PasskeyAgent"

type windowsService struct{}

// New creates a new platform-specific service manager
func New() Service {
	return &windowsService{}
}

func (s *windowsService) openRunKey(access uint32) (registry.Key, error) {
	return registry.OpenKey(registry.CURRENT_USER,
		`Software\Microsoft\Windows\CurrentVersion\Run`, access)
}

func (s *windowsService) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	key, err := s.openRunKey(registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("failed to open Run key: %w", err)
	}
	defer key.Close()

	if err := key.SetStringValue(runKeyName, `"`+execPath+`"`); err != nil {
		return fmt.Errorf("failed to set Run value: %w", err)
	}
	return nil
}

func (s *windowsService) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}

	key, err := s.openRunKey(registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("failed to open Run key: %w", err)
	}
	defer key.Close()

	if err := key.DeleteValue(runKeyName); err != nil {
		return fmt.Errorf("failed to delete Run value: %w", err)
	}
	return nil
}

func (s *windowsService) IsInstalled() bool {
	key, err := s.openRunKey(registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer key.Close()

	_, _, err = key.GetStringValue(runKeyName)
	return err == nil
}

func (s *windowsService) Status() (string, error) {
	if !s.IsInstalled() {
		return "not installed", nil
	}
	return "installed (starts at login)", nil
}
