// Package validation checks manifests and record payloads before and after ingestion.
package validation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchemaValidator validates documents against JSON schemas. Compiled schemas are
// cached by content hash, so callers may pass the same bytes on every call.
type JSONSchemaValidator struct {
	compiled sync.Map // hash -> *jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with an empty schema cache.
func NewJSONSchemaValidator() *JSONSchemaValidator {
	return &JSONSchemaValidator{}
}

// Validate returns one message per violated leaf constraint, formatted as
// "<instance location>: <message>". An error is returned only when the schema itself
// cannot be compiled or the document cannot be encoded.
func (v *JSONSchemaValidator) Validate(schema []byte, doc any) ([]string, error) {
	compiled, err := v.compile(schema)
	if err != nil {
		return nil, err
	}

	instance, err := toInstance(doc)
	if err != nil {
		return nil, err
	}

	err = compiled.Validate(instance)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, fmt.Errorf("failed to validate document: %w", err)
	}

	violations := leafMessages(ve, nil)
	sort.Strings(violations)
	return violations, nil
}

func (v *JSONSchemaValidator) compile(schema []byte) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(schema)
	key := hex.EncodeToString(sum[:])
	if cached, ok := v.compiled.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	url := "mem://schemas/" + key + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	actual, _ := v.compiled.LoadOrStore(key, compiled)
	return actual.(*jsonschema.Schema), nil
}

// toInstance round-trips doc through JSON so that numbers arrive as json.Number and
// structs become maps, which is what the schema engine expects.
func toInstance(doc any) (any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return instance, nil
}

func leafMessages(ve *jsonschema.ValidationError, out []string) []string {
	if len(ve.Causes) == 0 {
		location := ve.InstanceLocation
		if location == "" {
			location = "/"
		}
		return append(out, location+": "+ve.Message)
	}
	for _, cause := range ve.Causes {
		out = leafMessages(cause, out)
	}
	return out
}
