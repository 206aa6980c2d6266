// Package data ships the embedded registry of known authenticator
// products, keyed by AAGUID.
package data

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	_ "embed"
)

//go:embed aaguids.json
var aaguidJSON []byte

// Authenticator describes one known authenticator model.
type Authenticator struct {
	AAGUID  string `json:"aaguid"`
	Product string `json:"product"`
}

var (
	registry map[string]string
	loadOnce sync.Once
	loadErr  error
)

func load() {
	loadOnce.Do(func() {
		loadErr = json.Unmarshal(aaguidJSON, &registry)
	})
}

// LookupAAGUID returns the product name for an AAGUID (hex, with or
// without dashes), or "" when unknown.
func LookupAAGUID(aaguid string) string {
	load()
	if loadErr != nil {
		return ""
	}
	key := strings.ToLower(strings.ReplaceAll(aaguid, "-", ""))
	return registry[key]
}

// KnownAuthenticators returns the full registry, sorted by product name.
func KnownAuthenticators() ([]Authenticator, error) {
	load()
	if loadErr != nil {
		return nil, loadErr
	}

	out := make([]Authenticator, 0, len(registry))
	for aaguid, product := range registry {
		out = append(out, Authenticator{AAGUID: aaguid, Product: product})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Product < out[j].Product
	})
	return out, nil
}
