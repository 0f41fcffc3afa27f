package enrollment

import (
	"fmt"
	"path"
	"strings"
)

// MetadataFile is the name of a scope's document.
const MetadataFile = "metadata.json"

// Scope addresses one enrollment document. An empty DeviceID is the
// user-wide scope.
type Scope struct {
	UserID   string
	DeviceID string
}

// UserScope returns the user-wide scope of userID.
func UserScope(userID string) Scope { return Scope{UserID: userID} }

// DeviceScope returns the scope of one device of userID.
func DeviceScope(userID, deviceID string) Scope {
	return Scope{UserID: userID, DeviceID: deviceID}
}

// IsDevice reports whether s is a device scope.
func (s Scope) IsDevice() bool { return s.DeviceID != "" }

// Dir returns the scope directory relative to the store root.
func (s Scope) Dir() string {
	if s.DeviceID == "" {
		return path.Join("users", s.UserID)
	}
	return path.Join("users", s.UserID, "devices", s.DeviceID)
}

// MetadataPath returns the location of the scope's document.
func (s Scope) MetadataPath() string {
	return path.Join(s.Dir(), MetadataFile)
}

// Validate checks that the ids are usable as single path segments.
func (s Scope) Validate() error {
	if err := ValidateID("user", s.UserID); err != nil {
		return err
	}
	if s.DeviceID != "" {
		return ValidateID("device", s.DeviceID)
	}
	return nil
}

func (s Scope) String() string {
	if s.DeviceID == "" {
		return "user=" + s.UserID
	}
	return "user=" + s.UserID + " device=" + s.DeviceID
}

// ValidateID rejects ids that are empty or would not stay inside their
// directory.
func ValidateID(kind, id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("%w: %s id %q", ErrInvalidArgument, kind, id)
	}
	return nil
}
