package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CustomKind tags a custom line item with the catalog category it originated from.
type CustomKind string

const (
	CustomKindAcai    CustomKind = "customAcai"
	CustomKindSorvete CustomKind = "customSorvete"
	CustomKindProduct CustomKind = "customProduct"
)

// CustomKinds lists the supported custom item variants.
var CustomKinds = []CustomKind{CustomKindAcai, CustomKindSorvete, CustomKindProduct}

// ParseCustomKind validates a discriminator key.
func ParseCustomKind(value string) (CustomKind, error) {
	value = strings.TrimSpace(value)
	for _, kind := range CustomKinds {
		if strings.EqualFold(value, string(kind)) {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown custom item kind %q", value)
}

// CustomSelection is the payload shared by every custom variant.
type CustomSelection struct {
	Value               decimal.Decimal `json:"value"`
	SelectedComplements []int64         `json:"selectedComplements"`
	ComplementNames     []string        `json:"complementNames"`
}

// SelectedOptionsSnapshot freezes what the customer picked for a custom item. It serialises as a
// single-key object, e.g. {"customAcai": {"value": "25", ...}}.
type SelectedOptionsSnapshot struct {
	Kind      CustomKind
	Selection CustomSelection
}

// Clone returns a deep copy of the snapshot.
func (s SelectedOptionsSnapshot) Clone() SelectedOptionsSnapshot {
	cloned := s
	if s.Selection.SelectedComplements != nil {
		cloned.Selection.SelectedComplements = append([]int64(nil), s.Selection.SelectedComplements...)
	}
	if s.Selection.ComplementNames != nil {
		cloned.Selection.ComplementNames = append([]string(nil), s.Selection.ComplementNames...)
	}
	return cloned
}

// MarshalJSON implements json.Marshaler.
func (s SelectedOptionsSnapshot) MarshalJSON() ([]byte, error) {
	if s.Kind == "" {
		return []byte("null"), nil
	}
	selection := s.Selection
	if selection.SelectedComplements == nil {
		selection.SelectedComplements = []int64{}
	}
	if selection.ComplementNames == nil {
		selection.ComplementNames = []string{}
	}
	return json.Marshal(map[CustomKind]CustomSelection{s.Kind: selection})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SelectedOptionsSnapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return errors.New("selected options snapshot must contain exactly one custom item key")
	}
	for key, payload := range raw {
		kind, err := ParseCustomKind(key)
		if err != nil {
			return err
		}
		var selection CustomSelection
		if err := json.Unmarshal(payload, &selection); err != nil {
			return fmt.Errorf("decode %s: %w", kind, err)
		}
		s.Kind = kind
		s.Selection = selection
	}
	return nil
}
