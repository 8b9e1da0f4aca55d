package tool

import (
	"context"
	"testing"
)

type fakeSchemaTool struct {
	schema map[string]interface{}
}

func (f fakeSchemaTool) Name() string                    { return "fake" }
func (f fakeSchemaTool) Description() string             { return "fake tool for schema tests" }
func (f fakeSchemaTool) Kind() Kind                       { return KindRead }
func (f fakeSchemaTool) Schema() map[string]interface{}   { return f.schema }
func (f fakeSchemaTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	return &Result{Success: true}, nil
}

func simpleSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path"},
	}
}

func TestValidateArguments_AcceptsValidArgs(t *testing.T) {
	tool := fakeSchemaTool{schema: simpleSchema()}
	if err := ValidateArguments(tool, map[string]interface{}{"path": "a.go"}); err != nil {
		t.Errorf("expected valid args to pass, got %v", err)
	}
}

func TestValidateArguments_RejectsMissingRequired(t *testing.T) {
	tool := fakeSchemaTool{schema: simpleSchema()}
	if err := ValidateArguments(tool, map[string]interface{}{}); err == nil {
		t.Error("expected validation error for missing required field")
	}
}

func TestValidateArguments_RejectsWrongType(t *testing.T) {
	tool := fakeSchemaTool{schema: simpleSchema()}
	if err := ValidateArguments(tool, map[string]interface{}{"path": 123}); err == nil {
		t.Error("expected validation error for wrong type")
	}
}
