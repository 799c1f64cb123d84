package config

import (
	"encoding/json"
)

const redacted = "[REDACTED]"

// SensitiveString hides secrets from logs and rendered configuration.
type SensitiveString string

func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// Value returns the raw secret; call it only where the secret is handed to a client.
func (s SensitiveString) Value() string {
	return string(s)
}

func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SensitiveString) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SensitiveString(raw)
	return nil
}

func (s SensitiveString) MarshalYAML() (any, error) {
	return s.String(), nil
}
