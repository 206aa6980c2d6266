package welcome

import (
	"os"
	"path/filepath"
)

// firstRunMarker is the file whose presence means the welcome dialog has
// already been shown.
const firstRunMarker = "welcome_shown"

func markerPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "passkey-agent", firstRunMarker), nil
}

// IsFirstRun reports whether the welcome dialog has not been shown yet.
func IsFirstRun() bool {
	path, err := markerPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return os.IsNotExist(err)
}

// MarkAsShown records that the welcome dialog has been shown.
func MarkAsShown() error {
	path, err := markerPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte{}, 0644)
}
