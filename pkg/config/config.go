// Package config loads typed configuration structs from an optional YAML file
// overlaid with environment variables, driven by struct tags:
//
//	env:"NAME"       environment variable read into the field
//	default:"value"  applied when the field is still zero after file and env
//	required:"true"  fails loading when the field ends up zero (ignored with a default)
//
// Nested structs are walked recursively.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Validator lets config structs add their own checks; it runs after loading.
type Validator interface {
	Validate() error
}

// setFromString assigns raw to field according to the field's type.
func setFromString(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("failed to convert %q to duration: %w", raw, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int32, reflect.Int64:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to convert %q to int: %w", raw, err)
		}
		field.SetInt(v)
	case reflect.Float32, reflect.Float64:
		v, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("failed to convert %q to float: %w", raw, err)
		}
		field.SetFloat(v)
	case reflect.Bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("failed to convert %q to bool: %w", raw, err)
		}
		field.SetBool(v)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(raw, ",")
		slice := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				slice = reflect.Append(slice, reflect.ValueOf(p).Convert(field.Type().Elem()))
			}
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}

func fieldKey(t reflect.Type, f reflect.StructField) string {
	return t.PkgPath() + "." + t.Name() + "." + f.Name
}

// applyEnv copies environment values into tagged fields and records which were set.
func applyEnv(val reflect.Value, typ reflect.Type, set map[string]bool) error {
	for i := 0; i < val.NumField(); i++ {
		field, sf := val.Field(i), typ.Field(i)
		if !sf.IsExported() {
			continue
		}
		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := applyEnv(field, sf.Type, set); err != nil {
				return err
			}
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := os.LookupEnv(name)
		if !ok || raw == "" {
			continue
		}
		if err := setFromString(field, raw); err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
		set[fieldKey(typ, sf)] = true
	}
	return nil
}

// applyDefaults fills zero fields from default tags and collects missing required fields.
func applyDefaults(val reflect.Value, typ reflect.Type, set map[string]bool) error {
	var result error
	for i := 0; i < val.NumField(); i++ {
		field, sf := val.Field(i), typ.Field(i)
		if !sf.IsExported() {
			continue
		}
		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := applyDefaults(field, sf.Type, set); err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}

		def, hasDefault := sf.Tag.Lookup("default")
		required := strings.EqualFold(sf.Tag.Get("required"), "true") || sf.Tag.Get("required") == "1"

		if !field.IsZero() || set[fieldKey(typ, sf)] {
			continue
		}
		if hasDefault && def != "" {
			if err := setFromString(field, def); err != nil {
				result = multierror.Append(result, fmt.Errorf("default for %s: %w", sf.Name, err))
			}
			continue
		}
		if required {
			result = multierror.Append(result, fmt.Errorf("required field env:%s / yaml:%s is missing",
				sf.Tag.Get("env"), sf.Tag.Get("yaml")))
		}
	}
	return result
}

func load[T any](dest *T) error {
	val := reflect.ValueOf(dest).Elem()
	set := make(map[string]bool)
	if err := applyEnv(val, val.Type(), set); err != nil {
		return err
	}
	if err := applyDefaults(val, val.Type(), set); err != nil {
		var zero T
		*dest = zero
		return err
	}
	// *T covers both value and pointer receivers
	if v, ok := any(dest).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// GetConfigFromEnvVars loads configuration from environment variables only.
//
//	var cfg MyConfig
//	err := GetConfigFromEnvVars(&cfg)
func GetConfigFromEnvVars[T any](dest *T) error {
	return load(dest)
}

// GetConfig reads the YAML file at path first, then overlays environment variables.
// An empty path means environment only. With allowFileErrors, a missing or invalid
// file falls back to environment only.
func GetConfig[T any](dest *T, path string, allowFileErrors bool) error {
	if path == "" {
		return load(dest)
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: operator supplied config path
	if err == nil {
		err = yaml.Unmarshal(data, dest)
		if err != nil {
			err = fmt.Errorf("failed to unmarshal YAML: %w", err)
		}
	} else {
		err = fmt.Errorf("failed to read file: %w", err)
	}

	if err != nil {
		if !allowFileErrors {
			return err
		}
		var zero T
		*dest = zero
	}
	return load(dest)
}
