// Package srn allocates and decodes SRNs, the opaque versioned identifiers given to
// every record the pipeline creates.
//
// A resource type id looks like "srn:type:<type>:<version>" where the version may be
// empty. An SRN looks like "srn:<type>:<id>:<version>" where id is 32 random hex
// characters.
package srn

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// InitialVersion is the version marker of a freshly allocated SRN.
const InitialVersion = "1"

// ErrInvalid is returned for strings that are not resource type ids or SRNs.
var ErrInvalid = errors.New("invalid srn")

var (
	typeIDPattern = regexp.MustCompile(`^srn:type:(.+):([^:]*)$`)
	srnPattern    = regexp.MustCompile(`^srn:(.+):([0-9a-f]{32}):([^:]+)$`)
)

// TypeID is a parsed resource type id.
type TypeID struct {
	Raw     string
	Type    string
	Version string
}

// HasVersion reports whether the type id pins a schema version.
func (t TypeID) HasVersion() bool {
	return t.Version != ""
}

// ParseTypeID parses "srn:type:<type>:<version>".
func ParseTypeID(resourceTypeID string) (TypeID, error) {
	m := typeIDPattern.FindStringSubmatch(resourceTypeID)
	if m == nil {
		return TypeID{}, fmt.Errorf("%w: resource type id %q", ErrInvalid, resourceTypeID)
	}
	return TypeID{Raw: resourceTypeID, Type: m[1], Version: m[2]}, nil
}

// PrepareTypeID pins an unversioned resource type id to the initial version.
func PrepareTypeID(resourceTypeID string) string {
	t, err := ParseTypeID(resourceTypeID)
	if err != nil || t.HasVersion() {
		return resourceTypeID
	}
	return resourceTypeID + InitialVersion
}

// SRN is a decoded identifier.
type SRN struct {
	Type    string
	ID      string
	Version string
}

func (s SRN) String() string {
	return fmt.Sprintf("srn:%s:%s:%s", s.Type, s.ID, s.Version)
}

// Allocate returns a new SRN for the resource type. Uniqueness rests on 122 random
// bits; nothing is looked up.
func Allocate(resourceTypeID string) (string, error) {
	t, err := ParseTypeID(resourceTypeID)
	if err != nil {
		return "", err
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return SRN{Type: t.Type, ID: id, Version: InitialVersion}.String(), nil
}

// Parse decodes an SRN produced by Allocate.
func Parse(s string) (SRN, error) {
	m := srnPattern.FindStringSubmatch(s)
	if m == nil {
		return SRN{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return SRN{Type: m[1], ID: m[2], Version: m[3]}, nil
}

// DocumentID is the SRN with every "/" removed, safe to use as a document key.
func DocumentID(s string) string {
	return strings.ReplaceAll(s, "/", "")
}
