package valueobjects

import (
	"errors"

	"github.com/google/uuid"
)

// TabID is a value object representing a unique editing session identifier
type TabID struct {
	value string
}

// NewTabID creates a new random TabID
func NewTabID() TabID {
	return TabID{value: uuid.New().String()}
}

// TabIDFromString creates a TabID from an existing string
func TabIDFromString(id string) (TabID, error) {
	if id == "" {
		return TabID{}, errors.New("tab ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return TabID{}, errors.New("tab ID must be a valid UUID")
	}
	return TabID{value: id}, nil
}

// String returns the string representation of the TabID
func (id TabID) String() string {
	return id.value
}

// IsZero checks if the TabID is the zero value
func (id TabID) IsZero() bool {
	return id.value == ""
}

// MarshalText implements encoding.TextMarshaler
func (id TabID) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (id *TabID) UnmarshalText(data []byte) error {
	id.value = string(data)
	return nil
}
