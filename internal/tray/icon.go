//go:build !linux

package tray

import _ "embed"

// iconData is the tray icon, a 16x16 key glyph.
//
//go:embed icon.png
var iconData []byte
