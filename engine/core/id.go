package core

import (
	"errors"
	"fmt"

	"github.com/segmentio/ksuid"
)

// ID identifies a single query run. Values are KSUIDs so they sort by creation time.
type ID string

func (c ID) String() string {
	return string(c)
}

func (c ID) IsZero() bool {
	return c == ""
}

func NewID() (ID, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return ID(id.String()), nil
}

func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

// ParseID validates the textual form of an ID.
func ParseID(s string) (ID, error) {
	if s == "" {
		return "", errors.New("empty ID")
	}
	parsed, err := ksuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid ID format: %w", err)
	}
	return ID(parsed.String()), nil
}

// CloneMap returns a shallow copy of src, or nil when src is empty.
func CloneMap[K comparable, V any](src map[K]V) map[K]V {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
