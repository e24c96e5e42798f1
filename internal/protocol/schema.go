package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() {
	names := map[string]string{
		TypeHello: "hello.schema.json",
		TypeCmd:   "cmd.schema.json",
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	for _, file := range names {
		b, err := schemaFS.ReadFile("schemas/" + file)
		if err != nil {
			schemasErr = err
			return
		}
		if err := c.AddResource("roomquest://"+file, bytes.NewReader(b)); err != nil {
			schemasErr = err
			return
		}
	}
	schemas = make(map[string]*jsonschema.Schema, len(names))
	for typ, file := range names {
		s, err := c.Compile("roomquest://" + file)
		if err != nil {
			schemasErr = fmt.Errorf("compile %s: %w", file, err)
			return
		}
		schemas[typ] = s
	}
}

// Validate checks a raw client message against the embedded schema for its
// type. Types without a schema pass.
func Validate(typ string, raw []byte) error {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return schemasErr
	}
	s, ok := schemas[typ]
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
