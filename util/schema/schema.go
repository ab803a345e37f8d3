// Package schema generates JSON Schema descriptions from Go struct types and
// validates argument maps against them.
//
// Schemas are derived from struct tags: `json` names the property, `required`
// marks it mandatory, and `description`, `min`, `max`, `minLength`,
// `maxLength`, `enum`, `format` and `default` carry the corresponding JSON
// Schema keywords.
package schema

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Property describes a single JSON Schema property.
type Property struct {
	Type        string      `json:"type,omitempty"`
	Description string      `json:"description,omitempty"`
	Format      string      `json:"format,omitempty"`
	Enum        []any       `json:"enum,omitempty"`
	Default     any         `json:"default,omitempty"`
	Minimum     *float64    `json:"minimum,omitempty"`
	Maximum     *float64    `json:"maximum,omitempty"`
	MinLength   *int        `json:"minLength,omitempty"`
	MaxLength   *int        `json:"maxLength,omitempty"`
	Pattern     string      `json:"pattern,omitempty"`
	Items       *Property   `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string    `json:"required,omitempty"`
}

// Schema describes a JSON Schema object derived from a struct type.
type Schema struct {
	Type       string               `json:"type"`
	Properties map[string]*Property `json:"properties"`
	Required   []string             `json:"required"`
}

// FromStruct builds a Schema from the struct type of v.
func FromStruct(v interface{}) *Schema {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	s := &Schema{
		Type:       "object",
		Properties: make(map[string]*Property),
		Required:   []string{},
	}
	if t == nil || t.Kind() != reflect.Struct {
		return s
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := propertyName(field)
		if name == "" {
			continue
		}

		prop := propertyFromField(field)
		s.Properties[name] = prop

		if field.Tag.Get("required") == "true" {
			s.Required = append(s.Required, name)
		}
	}
	return s
}

// propertyName resolves a field's property name from its json tag.
// Fields tagged `json:"-"` are omitted.
func propertyName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	name := strings.Split(tag, ",")[0]
	if name == "" {
		name = field.Name
	}
	return name
}

// propertyFromField builds the Property for one struct field.
func propertyFromField(field reflect.StructField) *Property {
	prop := &Property{
		Description: field.Tag.Get("description"),
		Format:      field.Tag.Get("format"),
		Pattern:     field.Tag.Get("pattern"),
	}

	fillType(prop, field.Type)

	if enum := field.Tag.Get("enum"); enum != "" {
		for _, v := range strings.Split(enum, ",") {
			prop.Enum = append(prop.Enum, v)
		}
	}
	if def := field.Tag.Get("default"); def != "" {
		prop.Default = coerce(def, field.Type)
	}
	if v, ok := floatTag(field, "min"); ok {
		prop.Minimum = &v
	}
	if v, ok := floatTag(field, "max"); ok {
		prop.Maximum = &v
	}
	if v, ok := intTag(field, "minLength"); ok {
		prop.MinLength = &v
	}
	if v, ok := intTag(field, "maxLength"); ok {
		prop.MaxLength = &v
	}
	return prop
}

// fillType sets the JSON Schema type (and items/properties for compound
// kinds) from a Go type.
func fillType(prop *Property, t reflect.Type) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.String:
		prop.Type = "string"
	case reflect.Bool:
		prop.Type = "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		prop.Type = "integer"
	case reflect.Float32, reflect.Float64:
		prop.Type = "number"
	case reflect.Slice, reflect.Array:
		prop.Type = "array"
		items := &Property{}
		fillType(items, t.Elem())
		prop.Items = items
	case reflect.Struct:
		prop.Type = "object"
		prop.Properties = make(map[string]*Property)
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := propertyName(field)
			if name == "" {
				continue
			}
			prop.Properties[name] = propertyFromField(field)
			if field.Tag.Get("required") == "true" {
				prop.Required = append(prop.Required, name)
			}
		}
	case reflect.Map:
		prop.Type = "object"
	default:
		prop.Type = "string"
	}
}

func floatTag(field reflect.StructField, name string) (float64, bool) {
	raw := field.Tag.Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func intTag(field reflect.StructField, name string) (int, bool) {
	raw := field.Tag.Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// coerce converts a tag literal to the field's underlying kind so defaults
// render as the right JSON type.
func coerce(raw string, t reflect.Type) any {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	case reflect.Bool:
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return raw
}

// Generator produces map-shaped schemas for embedding in wire responses.
type Generator struct{}

// NewGenerator creates a schema generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// GenerateSchema builds a map-shaped JSON Schema from the struct type of v.
func (g *Generator) GenerateSchema(v interface{}) (map[string]interface{}, error) {
	s := FromStruct(v)

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	// Required is always present, even when empty.
	if _, ok := out["required"]; !ok {
		out["required"] = []interface{}{}
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]interface{}{}
	}
	return out, nil
}

// ValidateStruct checks a populated struct against the constraints declared
// in its own tags.
func ValidateStruct(v interface{}) error {
	val := reflect.ValueOf(v)
	for val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("expected struct, got %s", val.Kind())
	}
	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := propertyName(field)
		if name == "" {
			continue
		}
		fv := val.Field(i)

		if field.Tag.Get("required") == "true" && fv.IsZero() {
			return fmt.Errorf("field %q is required", name)
		}
		if fv.IsZero() {
			continue
		}
		if err := validateField(name, field, fv); err != nil {
			return err
		}
	}
	return nil
}

func validateField(name string, field reflect.StructField, fv reflect.Value) error {
	switch fv.Kind() {
	case reflect.String:
		s := fv.String()
		if v, ok := intTag(field, "minLength"); ok && len(s) < v {
			return fmt.Errorf("field %q must be at least %d characters", name, v)
		}
		if v, ok := intTag(field, "maxLength"); ok && len(s) > v {
			return fmt.Errorf("field %q must be at most %d characters", name, v)
		}
		if enum := field.Tag.Get("enum"); enum != "" {
			ok := false
			for _, allowed := range strings.Split(enum, ",") {
				if s == allowed {
					ok = true
					break
				}
			}
			if !ok {
				return fmt.Errorf("field %q must be one of [%s]", name, enum)
			}
		}
		if field.Tag.Get("format") == "email" {
			if _, err := mail.ParseAddress(s); err != nil {
				return fmt.Errorf("field %q must be a valid email address", name)
			}
		}
		if pattern := field.Tag.Get("pattern"); pattern != "" {
			matched, err := regexp.MatchString(pattern, s)
			if err != nil || !matched {
				return fmt.Errorf("field %q must match pattern %q", name, pattern)
			}
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := float64(fv.Int())
		if v, ok := floatTag(field, "min"); ok && n < v {
			return fmt.Errorf("field %q must be >= %v", name, v)
		}
		if v, ok := floatTag(field, "max"); ok && n > v {
			return fmt.Errorf("field %q must be <= %v", name, v)
		}
	case reflect.Float32, reflect.Float64:
		n := fv.Float()
		if v, ok := floatTag(field, "min"); ok && n < v {
			return fmt.Errorf("field %q must be >= %v", name, v)
		}
		if v, ok := floatTag(field, "max"); ok && n > v {
			return fmt.Errorf("field %q must be <= %v", name, v)
		}
	}
	return nil
}

// HandleArgs decodes an argument map into a value of type T and validates it
// against T's tag constraints.
func HandleArgs[T any](args map[string]interface{}) (*T, error) {
	out := new(T)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := ValidateStruct(*out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateAndConvertArgs decodes an argument map into a new value of
// targetType (struct or pointer to struct), validating required fields per
// the supplied schema map and tag constraints. The returned value matches
// targetType's kind.
func ValidateAndConvertArgs(schemaMap map[string]interface{}, args map[string]interface{}, targetType reflect.Type) (interface{}, error) {
	if required, ok := schemaMap["required"].([]interface{}); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := args[name]; !present {
				return nil, fmt.Errorf("missing required argument %q", name)
			}
		}
	}

	isPointer := targetType.Kind() == reflect.Ptr
	structType := targetType
	if isPointer {
		structType = structType.Elem()
	}

	out := reflect.New(structType)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out.Interface(),
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := ValidateStruct(out.Elem().Interface()); err != nil {
		return nil, err
	}

	if isPointer {
		return out.Interface(), nil
	}
	return out.Elem().Interface(), nil
}
