package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Artifact is a stored file (item image or claim verification document).
// Older records may carry a bare inline data string instead of the object form;
// those decode into an artifact whose Href is the inline payload and re-encode unchanged.
type Artifact struct {
	URL      string `json:"url,omitempty"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	PublicID string `json:"publicId,omitempty"`

	inline string
}

type artifactFields struct {
	URL      string `json:"url,omitempty"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	PublicID string `json:"publicId,omitempty"`
	Data     string `json:"data,omitempty"`
}

// Href returns the authoritative location of the artifact: the URL when present,
// otherwise the legacy inline payload.
func (a Artifact) Href() string {
	if a.URL != "" {
		return a.URL
	}
	return a.inline
}

// IsLegacy reports whether the artifact was decoded from the inline representation.
func (a Artifact) IsLegacy() bool {
	return a.URL == "" && a.inline != ""
}

// MarshalJSON implements json.Marshaler.
func (a Artifact) MarshalJSON() ([]byte, error) {
	if a.IsLegacy() && a.Name == "" && a.PublicID == "" {
		return json.Marshal(a.inline)
	}
	fields := artifactFields{URL: a.URL, Name: a.Name, Type: a.Type, Size: a.Size, PublicID: a.PublicID}
	if a.URL == "" {
		fields.Data = a.inline
	}
	return json.Marshal(fields)
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Artifact) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		*a = Artifact{}
		if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "/") {
			a.URL = raw
		} else {
			a.inline = raw
			a.Type = inlineMIME(raw)
		}
		return nil
	}
	var fields artifactFields
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return err
	}
	*a = Artifact{
		URL:      fields.URL,
		Name:     fields.Name,
		Type:     fields.Type,
		Size:     fields.Size,
		PublicID: fields.PublicID,
		inline:   fields.Data,
	}
	if a.Type == "" && a.inline != "" {
		a.Type = inlineMIME(a.inline)
	}
	return nil
}

// Value implements driver.Valuer.
func (a Artifact) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *Artifact) Scan(src interface{}) error {
	data, err := jsonBytes(src)
	if err != nil || data == nil {
		return err
	}
	return json.Unmarshal(data, a)
}

// ArtifactList is an ordered list of artifacts stored as a JSON array.
type ArtifactList []Artifact

// Value implements driver.Valuer.
func (l ArtifactList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Artifact(l))
}

// Scan implements sql.Scanner.
func (l *ArtifactList) Scan(src interface{}) error {
	data, err := jsonBytes(src)
	if err != nil {
		return err
	}
	if data == nil {
		*l = ArtifactList{}
		return nil
	}
	var items []Artifact
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("scan artifact list: %w", err)
	}
	*l = items
	return nil
}

// Attributes holds free-form item details (colour, brand, size, identifiers).
type Attributes map[string]string

// Value implements driver.Valuer.
func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(a))
}

// Scan implements sql.Scanner.
func (a *Attributes) Scan(src interface{}) error {
	data, err := jsonBytes(src)
	if err != nil {
		return err
	}
	result := Attributes{}
	if data != nil {
		if err := json.Unmarshal(data, &result); err != nil {
			return fmt.Errorf("scan attributes: %w", err)
		}
	}
	*a = result
	return nil
}

func jsonBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported json source %T", src)
	}
}

func inlineMIME(raw string) string {
	if !strings.HasPrefix(raw, "data:") {
		return ""
	}
	rest := strings.TrimPrefix(raw, "data:")
	if idx := strings.IndexAny(rest, ";,"); idx > 0 {
		return rest[:idx]
	}
	return ""
}
