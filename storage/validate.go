package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed schema/video.schema.json
var videoSchemaJSON []byte

// Violation lists the schema problems of one document.
type Violation struct {
	ID       string
	Problems []string
}

// Validator checks documents against an OpenAPI 3 schema object.
type Validator struct {
	schema *openapi3.Schema
}

// NewVideoValidator compiles the embedded video record schema.
func NewVideoValidator() (*Validator, error) {
	return NewValidator(videoSchemaJSON)
}

// NewValidator compiles a schema document.
func NewValidator(schemaJSON []byte) (*Validator, error) {
	var schema openapi3.Schema
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if err := schema.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Validator{schema: &schema}, nil
}

// Check returns every problem found in doc, or nil when it conforms.
func (v *Validator) Check(doc Document) []string {
	in, err := normalize(doc)
	if err != nil {
		return []string{err.Error()}
	}
	err = v.schema.VisitJSON(in, openapi3.MultiErrors())
	if err == nil {
		return nil
	}

	var multi openapi3.MultiError
	if !errors.As(err, &multi) {
		return []string{err.Error()}
	}
	problems := make([]string, 0, len(multi))
	for _, e := range multi {
		var se *openapi3.SchemaError
		if errors.As(e, &se) {
			problems = append(problems, schemaProblem(se))
			continue
		}
		problems = append(problems, e.Error())
	}
	sort.Strings(problems)
	return problems
}

func schemaProblem(se *openapi3.SchemaError) string {
	pointer := ""
	for _, p := range se.JSONPointer() {
		pointer += "/" + p
	}
	if pointer == "" {
		return se.Reason
	}
	return pointer + ": " + se.Reason
}

// ValidateCollection checks every document of collection and returns the
// violations sorted by document ID along with the number of documents read.
func (v *Validator) ValidateCollection(ctx context.Context, store DocumentStore, collection string) ([]Violation, int, error) {
	docs, err := store.List(ctx, collection)
	if err != nil {
		return nil, 0, err
	}

	var violations []Violation
	for id, doc := range docs {
		if problems := v.Check(doc); len(problems) > 0 {
			violations = append(violations, Violation{ID: id, Problems: problems})
		}
	}
	sort.Slice(violations, func(i, j int) bool { return violations[i].ID < violations[j].ID })
	return violations, len(docs), nil
}
