// Package config loads sinkcam options from a TOML file and SINKCAM_
// environment variables, and watches the file for live changes.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/sinkcam/internal/logging"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "SINKCAM_"

var durationType = reflect.TypeFor[time.Duration]()

// LoadConfig fills opts with precedence CLI flags > env vars > config file.
// opts must point to a struct; a string field named Config holds the file
// path. Flags marked changed in flags are left alone.
func LoadConfig(opts any, flags *pflag.FlagSet) error {
	v := reflect.ValueOf(opts)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("options must be a struct pointer, got %T", opts)
	}
	v = v.Elem()
	t := v.Type()

	changed := make(map[string]bool)
	if flags != nil {
		flags.Visit(func(f *pflag.Flag) {
			changed[f.Name] = true
		})
	}

	var configPath string
	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String {
		configPath = f.String()
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			var doc map[string]any
			if err := toml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("failed to parse TOML config: %w", err)
			}
			for i := range v.NumField() {
				ft := t.Field(i)
				if changed[fieldNameToFlag(ft.Name)] {
					continue
				}
				if path := ft.Tag.Get("toml"); path != "" {
					if value := getNestedValue(doc, path); value != nil {
						if err := setFieldValue(v.Field(i), value); err != nil {
							return fmt.Errorf("%s: %w", path, err)
						}
					}
				}
			}
		case !os.IsNotExist(err):
			return fmt.Errorf("read config: %w", err)
		}
	}

	for i := range v.NumField() {
		ft := t.Field(i)
		if changed[fieldNameToFlag(ft.Name)] {
			continue
		}
		key := ft.Tag.Get("env")
		if key == "" {
			continue
		}
		if raw, ok := os.LookupEnv(EnvPrefix + key); ok && raw != "" {
			if err := setFieldValueFromString(v.Field(i), raw); err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
		}
	}
	return nil
}

// fieldNameToFlag converts "LoggingLevel" to "logging-level". Acronyms stay
// one word: "LoggingAPI" becomes "logging-api".
func fieldNameToFlag(fieldName string) string {
	runes := []rune(fieldName)
	var result []rune
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := !unicode.IsUpper(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				result = append(result, '-')
			}
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// getNestedValue looks up a dotted path in a decoded TOML document.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current[parts[len(parts)-1]]
}

// setFieldValue assigns a decoded TOML value to field.
func setFieldValue(field reflect.Value, value any) error {
	if !field.CanSet() {
		return nil
	}
	if s, ok := value.(string); ok && field.Kind() != reflect.String {
		return setFieldValueFromString(field, s)
	}

	switch field.Kind() {
	case reflect.String:
		return assign(field, value)
	case reflect.Bool:
		return assign(field, value)
	case reflect.Int, reflect.Int32, reflect.Int64:
		i, ok := value.(int64)
		if !ok {
			return fmt.Errorf("want integer, got %T", value)
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		i, ok := value.(int64)
		if !ok || i < 0 {
			return fmt.Errorf("want non-negative integer, got %v", value)
		}
		field.SetUint(uint64(i))
	case reflect.Float32, reflect.Float64:
		switch n := value.(type) {
		case float64:
			field.SetFloat(n)
		case int64:
			field.SetFloat(float64(n))
		default:
			return fmt.Errorf("want number, got %T", value)
		}
	case reflect.Slice:
		arr, ok := value.([]any)
		if !ok || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("want string array, got %T", value)
		}
		slice := make([]string, len(arr))
		for i, item := range arr {
			slice[i] = fmt.Sprint(item)
		}
		field.Set(reflect.ValueOf(slice))
	}
	return nil
}

func assign(field reflect.Value, value any) error {
	rv := reflect.ValueOf(value)
	if !rv.Type().AssignableTo(field.Type()) {
		return fmt.Errorf("want %s, got %T", field.Type(), value)
	}
	field.Set(rv)
	return nil
}

// setFieldValueFromString parses an env var or string TOML value into field.
func setFieldValueFromString(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	}
	return nil
}

// LoadLoggingConfig reads the [logging] table. Keys other than level and
// format, plus the [logging.modules] table, are per-module levels.
func LoadLoggingConfig(configPath string) logging.Config {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}
	if configPath == "" {
		return cfg
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	var raw struct {
		Logging map[string]any `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return cfg
	}

	for key, value := range raw.Logging {
		switch v := value.(type) {
		case string:
			switch key {
			case "level":
				cfg.Level = v
			case "format":
				cfg.Format = v
			default:
				cfg.Modules[key] = v
			}
		case map[string]any:
			if key != "modules" {
				continue
			}
			for module, level := range v {
				if s, ok := level.(string); ok {
					cfg.Modules[module] = s
				}
			}
		}
	}
	return cfg
}
