package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const keyPrefix = "classpath:"

// Key identifies a cached resource. Keys are comparable and immutable.
type Key string

func (k Key) String() string { return string(k) }

// DeriveKey returns the key for an ordered list of locations.
//
// Equal lists derive equal keys. Order matters: [a b] and [b a] derive
// different keys. Format: classpath:<first 16 bytes of SHA-256, hex>
// over the canonical locations, each preceded by its byte length.
func DeriveKey(locations []string) Key {
	h := sha256.New()
	var size [8]byte
	for _, loc := range locations {
		canonical := CanonicalLocation(loc)
		// Length framing keeps ["a:b","c"] and ["a","b:c"] apart and hashes
		// every byte as given, valid UTF-8 or not.
		binary.BigEndian.PutUint64(size[:], uint64(len(canonical)))
		h.Write(size[:])
		h.Write([]byte(canonical))
	}
	sum := h.Sum(nil)
	return Key(keyPrefix + hex.EncodeToString(sum[:16]))
}

// CanonicalLocation normalises a location so that equivalent spellings
// compare equal.
//
// URIs keep their scheme (lowercased) and get a cleaned path; absolute paths
// become file:// URIs; relative paths are only cleaned. A trailing slash is
// kept because it marks a directory location.
func CanonicalLocation(loc string) string {
	if u, err := url.Parse(loc); err == nil && len(u.Scheme) > 1 {
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		if u.Scheme == "file" {
			u.OmitHost = false // file:/x and file:///x name the same location
		}
		if u.Path != "" {
			u.Path = cleanPath(u.Path)
			u.RawPath = ""
		}
		return u.String()
	}

	p := cleanPath(filepath.ToSlash(loc))
	if strings.HasPrefix(p, "/") {
		return (&url.URL{Scheme: "file", Path: p}).String()
	}
	return p
}

func cleanPath(p string) string {
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

// ValidateLocations rejects blank locations and locations containing line breaks.
func ValidateLocations(locations []string) error {
	for i, loc := range locations {
		if strings.TrimSpace(loc) == "" {
			return fmt.Errorf("%w: location %d is empty", ErrInvalidLocation, i)
		}
		if strings.ContainsAny(loc, "\n\r") {
			return fmt.Errorf("%w: location %d contains a line break", ErrInvalidLocation, i)
		}
	}
	return nil
}
