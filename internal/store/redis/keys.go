package redis

import (
	"fmt"
	"strings"
)

// DefaultPrefix namespaces every key written by the mirror.
const DefaultPrefix = "swarmdns:"

// Keys builds the Redis key layout under a prefix:
//
//	<prefix>catalog:entry:<id>  JSON encoded catalog entry
//	<prefix>catalog:ids         set of entry ids
type Keys struct {
	prefix string
}

func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return Keys{prefix: prefix}
}

// Entry returns the key of one catalog entry.
func (k Keys) Entry(id string) string {
	return k.entryPrefix() + id
}

// All returns the key of the id set.
func (k Keys) All() string {
	return k.prefix + "catalog:ids"
}

func (k Keys) entryPrefix() string {
	return k.prefix + "catalog:entry:"
}

// EntryID extracts the entry id from an entry key.
func (k Keys) EntryID(key string) (string, error) {
	p := k.entryPrefix()
	if len(key) <= len(p) || !strings.HasPrefix(key, p) {
		return "", fmt.Errorf("invalid catalog key: %s", key)
	}
	return key[len(p):], nil
}
