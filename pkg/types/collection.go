// Package types defines the records, identifiers and event topics shared by the
// cache, state and fetcher layers.
package types

import (
	"errors"
	"fmt"
)

// ErrUnknownCollection is returned when a collection name is not one of the
// collections served by the resource store.
var ErrUnknownCollection = errors.New("unknown collection")

// Collection names a homogeneous set of records in the resource store.
type Collection string

const (
	Users      Collection = "users"
	Xassidas   Collection = "xassidas"
	Evenements Collection = "evenements"
	Lectures   Collection = "lectures"
	Diwanes    Collection = "diwanes"
)

// AllCollections lists every collection in a stable order.
func AllCollections() []Collection {
	return []Collection{Users, Xassidas, Evenements, Lectures, Diwanes}
}

// ParseCollection validates a raw collection name.
func ParseCollection(name string) (Collection, error) {
	c := Collection(name)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return c, nil
}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	switch c {
	case Users, Xassidas, Evenements, Lectures, Diwanes:
		return true
	}
	return false
}

// Path returns the resource path of the collection, e.g. "/users".
func (c Collection) Path() string {
	return "/" + string(c)
}

// ItemPath returns the resource path of a single record, e.g. "/users/42".
func (c Collection) ItemPath(id ID) string {
	return c.Path() + "/" + string(id)
}
