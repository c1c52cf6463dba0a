package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Trait is a single typed attribute on an item, used by stage filters.
type Trait struct {
	TraitType string `json:"trait_type" yaml:"trait_type"`
	Value     string `json:"value" yaml:"value"`
}

// Metadata is the structured token metadata stored alongside each NFT and
// embedded into the signed metadata response at mint time.
type Metadata struct {
	Name          string  `json:"name" yaml:"name"`
	Description   string  `json:"description" yaml:"description"`
	Image         string  `json:"image" yaml:"image"`
	MetadataURI   string  `json:"metadata_uri" yaml:"metadata_uri"`
	CurrentStatus string  `json:"current_status,omitempty" yaml:"current_status,omitempty"`
	Attributes    []Trait `json:"attributes" yaml:"attributes"`
}

// HasAttribute reports whether the attribute list contains the trait/value
// pair. Matching is case-insensitive on both sides.
func (m Metadata) HasAttribute(traitType, value string) bool {
	for _, attr := range m.Attributes {
		if strings.EqualFold(attr.TraitType, traitType) && strings.EqualFold(attr.Value, value) {
			return true
		}
	}
	return false
}

// Validate rejects payloads that would be unusable for signing or filtering.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("metadata: name is required")
	}
	for i, attr := range m.Attributes {
		if strings.TrimSpace(attr.TraitType) == "" {
			return fmt.Errorf("metadata: attribute %d missing trait_type", i)
		}
	}
	return nil
}

// Value implements driver.Valuer so metadata round-trips as a JSON column.
func (m Metadata) Value() (driver.Value, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("metadata: encode: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", src)
	}
}
