// Package metadata validates the descriptive fields a pool is launched with.
package metadata

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxNameLen = 32
	MaxURILen  = 200
)

// symbolRegex matches 1-10 upper-case letters or digits, e.g. MPT.
var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)

var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"ipfs":  true,
	"ar":    true,
}

var (
	ErrInvalidName   = errors.New("metadata: invalid name")
	ErrInvalidSymbol = errors.New("metadata: invalid symbol")
	ErrInvalidURI    = errors.New("metadata: invalid uri")
)

// Metadata is the normalized launch description of an asset.
type Metadata struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	URI    string `json:"uri"`
}

// Parse trims and validates launch metadata.
func Parse(name, symbol, uri string) (*Metadata, error) {
	name = strings.TrimSpace(name)
	symbol = strings.TrimSpace(symbol)
	uri = strings.TrimSpace(uri)

	if name == "" || utf8.RuneCountInString(name) > MaxNameLen {
		return nil, fmt.Errorf("%w: %q (1-%d characters)", ErrInvalidName, name, MaxNameLen)
	}
	if !symbolRegex.MatchString(symbol) {
		return nil, fmt.Errorf("%w: %q (expected 1-10 of A-Z, 0-9)", ErrInvalidSymbol, symbol)
	}
	if len(uri) > MaxURILen {
		return nil, fmt.Errorf("%w: longer than %d bytes", ErrInvalidURI, MaxURILen)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if !allowedSchemes[u.Scheme] {
		return nil, fmt.Errorf("%w: scheme %q not allowed", ErrInvalidURI, u.Scheme)
	}
	if u.Host == "" && u.Opaque == "" {
		return nil, fmt.Errorf("%w: %s has no location", ErrInvalidURI, uri)
	}

	return &Metadata{Name: name, Symbol: symbol, URI: uri}, nil
}
