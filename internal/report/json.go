package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://sramprint.local/schema/report-v1.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Schema returns the compiled report schema.
func Schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// SchemaJSON returns the raw schema document.
func SchemaJSON() []byte {
	return bytes.Clone(schemaJSON)
}

// Validate checks an encoded report against the schema.
func Validate(data []byte) error {
	s, err := Schema()
	if err != nil {
		return err
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}
	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("report does not match schema: %w", err)
	}
	return nil
}

// MarshalJSON encodes r indented and validates the result. An invalid
// report is never returned.
func MarshalJSON(r *Report) ([]byte, error) {
	if r.SchemaVersion == 0 {
		r.SchemaVersion = SchemaVersion
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	if err := Validate(data); err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// WriteJSON writes the validated JSON encoding of r.
func WriteJSON(w io.Writer, r *Report) error {
	data, err := MarshalJSON(r)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadJSON decodes a report written by WriteJSON.
func ReadJSON(rd io.Reader) (*Report, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	if err := Validate(data); err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}
