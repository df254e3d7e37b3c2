package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

const (
	// ConfigFileName is the per-service file looked up in each service directory
	ConfigFileName = "config.json"

	// MaxConfigSize is the largest serialized config accepted for one service
	MaxConfigSize = 100_000

	// MaxValueLength bounds the value accepted by the update endpoints
	MaxValueLength = 1024
)

// Setting properties
const (
	PropertyValue   = "value"
	PropertyEnabled = "enabled"
	PropertyType    = "type"
)

// RequiredProperties lists the keys every Setting must carry
var RequiredProperties = []string{PropertyValue, PropertyEnabled, PropertyType}

// Setting is a named configuration entry of a service. Property values are
// kept exactly as decoded from the source file.
type Setting map[string]any

// ServiceConfig maps setting names to settings for one service
type ServiceConfig map[string]Setting

// Snapshot maps service names to their configuration
type Snapshot map[string]ServiceConfig

// IsValidProperty reports whether name is one of the Setting properties
func IsValidProperty(name string) bool {
	for _, p := range RequiredProperties {
		if p == name {
			return true
		}
	}
	return false
}

// Clone returns a copy of the setting
func (s Setting) Clone() Setting {
	out := make(Setting, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of the service config
func (c ServiceConfig) Clone() ServiceConfig {
	out := make(ServiceConfig, len(c))
	for name, setting := range c {
		out[name] = setting.Clone()
	}
	return out
}

// Services returns the service names in sorted order
func (s Snapshot) Services() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateServiceConfig checks a decoded config.json document against the
// settings schema: an object whose every value is an object holding all of
// RequiredProperties. Nothing else about the contents is constrained.
func ValidateServiceConfig(doc any) (ServiceConfig, error) {
	settings, ok := doc.(map[string]any)
	if !ok {
		return nil, NewSchemaError(fmt.Sprintf("expected an object of settings, got %s", jsonKind(doc)))
	}

	cfg := make(ServiceConfig, len(settings))
	for name, raw := range settings {
		props, ok := raw.(map[string]any)
		if !ok {
			return nil, NewSchemaError(fmt.Sprintf("setting %q: expected an object, got %s", name, jsonKind(raw)))
		}

		for _, key := range RequiredProperties {
			if _, found := props[key]; !found {
				return nil, NewSchemaError(fmt.Sprintf("setting %q: missing %q", name, key))
			}
		}

		cfg[name] = Setting(props)
	}

	return cfg, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
