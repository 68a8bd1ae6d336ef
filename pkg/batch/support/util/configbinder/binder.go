// Package configbinder decodes loosely typed configuration maps (named adapter
// blocks, CLI property overrides) into typed structs.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// BindProperties binds a map of properties to a target struct.
// The "yaml" tag names the fields, strings are converted to numbers, booleans
// and durations, and keys that match no field are reported as errors.
func BindProperties(properties map[string]interface{}, target interface{}) error {
	if len(properties) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(properties); err != nil {
		targetType := reflect.TypeOf(target)
		if targetType.Kind() == reflect.Ptr {
			targetType = targetType.Elem()
		}
		return fmt.Errorf("failed to bind properties to struct %s: %w", targetType.Name(), err)
	}
	return nil
}

// BindStrings is BindProperties for string-valued maps such as parsed CLI flags.
func BindStrings(properties map[string]string, target interface{}) error {
	m := make(map[string]interface{}, len(properties))
	for k, v := range properties {
		m[k] = v
	}
	return BindProperties(m, target)
}
