package ipa

import (
	"errors"
	"regexp"
	"strings"
)

// Benign outcomes reported by the ipa tool on stderr. Matching is
// case-insensitive.
const (
	markerAlreadyExists = "already exists"
	markerNotFound      = "not found"
)

// ErrSerialNotFound is returned when cert-request output has no serial.
var ErrSerialNotFound = errors.New("no serial number in cert-request output")

var serialLine = regexp.MustCompile(`Serial number: (\d+)`)

func alreadyExists(r Result) bool {
	return strings.Contains(strings.ToLower(r.Stderr), markerAlreadyExists)
}

func notFound(r Result) bool {
	return strings.Contains(strings.ToLower(r.Stderr), markerNotFound)
}

// ParseSerial extracts the certificate serial from `ipa cert-request` output.
// This is the only place that knows the output format.
func ParseSerial(output string) (string, error) {
	m := serialLine.FindStringSubmatch(output)
	if m == nil {
		return "", ErrSerialNotFound
	}
	return m[1], nil
}
