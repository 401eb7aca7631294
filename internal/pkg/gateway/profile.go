package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuelReschke/ProfileSync/app/models"
)

// RawProfile is a gateway payload in one of the two protocol shapes. Values
// are addressed by logical path: a flat key for the legacy shape, a dotted
// path (array indexes allowed) for the modern shape. Lookup only reports
// non-empty scalar values.
type RawProfile interface {
	Source() string
	Lookup(path string) (string, bool)
}

// LegacyProfile is the flat key/value payload of the legacy protocol.
type LegacyProfile map[string]string

func (LegacyProfile) Source() string { return models.ProfileSourceLegacy }

func (p LegacyProfile) Lookup(path string) (string, bool) {
	if v, ok := p[path]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	if v, ok := p[strings.ToUpper(path)]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	return "", false
}

// ModernProfile is the nested resource payload of the modern protocol.
type ModernProfile map[string]interface{}

func (ModernProfile) Source() string { return models.ProfileSourceModern }

func (p ModernProfile) Lookup(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	var cur interface{} = map[string]interface{}(p)
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return "", false
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return "", false
			}
			cur = node[idx]
		default:
			return "", false
		}
	}
	return scalarString(cur)
}

func scalarString(v interface{}) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// DecodeProfile rebuilds a RawProfile from its JSON encoding. Empty data
// yields a nil profile. An unknown source is decided by shape: any nested
// value means modern.
func DecodeProfile(source string, data []byte) (RawProfile, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode %s profile: %w", source, err)
	}

	switch models.NormalizeProfileSource(source) {
	case models.ProfileSourceModern:
		return ModernProfile(raw), nil
	case models.ProfileSourceLegacy:
		return flatten(raw), nil
	default:
		for _, v := range raw {
			switch v.(type) {
			case map[string]interface{}, []interface{}:
				return ModernProfile(raw), nil
			}
		}
		return flatten(raw), nil
	}
}

func flatten(raw map[string]interface{}) LegacyProfile {
	out := make(LegacyProfile, len(raw))
	for k, v := range raw {
		if s, ok := scalarString(v); ok {
			out[k] = s
		}
	}
	return out
}

// EncodeProfile serializes a RawProfile for storage.
func EncodeProfile(p RawProfile) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// SourceOf returns the protocol source of p, or unknown for nil.
func SourceOf(p RawProfile) string {
	if p == nil {
		return models.ProfileSourceUnknown
	}
	return p.Source()
}
