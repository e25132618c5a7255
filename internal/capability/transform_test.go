package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyTransform_Noop(t *testing.T) {
	value := map[string]any{"a": 1}
	out, err := ApplyTransform(TransformConfig{}, value)
	require.NoError(t, err)
	assert.Equal(t, value, out)
}

func TestApplyTransform_Project(t *testing.T) {
	value := map[string]any{
		"id":     "123",
		"secret": "shh",
		"nested": map[string]any{"keep": "yes", "drop": "no"},
	}
	cfg := TransformConfig{Stages: []TransformStage{
		{Kind: "project", Paths: []string{"id", "nested.keep"}},
	}}

	out, err := ApplyTransform(cfg, value)
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, "123", result["id"])
	assert.NotContains(t, result, "secret")
	nested := result["nested"].(map[string]any)
	assert.Equal(t, "yes", nested["keep"])
	assert.NotContains(t, nested, "drop")
}

func TestApplyTransform_Rename(t *testing.T) {
	value := map[string]any{"old_name": "value"}
	cfg := TransformConfig{Stages: []TransformStage{
		{Kind: "rename", From: "old_name", To: "new_name"},
	}}

	out, err := ApplyTransform(cfg, value)
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, "value", result["new_name"])
	assert.NotContains(t, result, "old_name")
}

func TestApplyTransform_Redact(t *testing.T) {
	value := map[string]any{"api_key": "sk-abc123", "id": "1"}
	cfg := TransformConfig{Stages: []TransformStage{
		{Kind: "redact", Path: "api_key"},
	}}

	out, err := ApplyTransform(cfg, value)
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, "[REDACTED]", result["api_key"])
	assert.Equal(t, "1", result["id"])
}

func TestApplyTransform_Format(t *testing.T) {
	value := map[string]any{"name": "  Rust  "}
	cfg := TransformConfig{Stages: []TransformStage{
		{Kind: "format", Path: "name", Processor: "trim"},
	}}

	out, err := ApplyTransform(cfg, value)
	require.NoError(t, err)
	assert.Equal(t, "Rust", out.(map[string]any)["name"])
}

func TestApplyTransform_PipelineOrder(t *testing.T) {
	value := map[string]any{"result": map[string]any{"token": "tok-xyz", "status": "ok"}}
	cfg := TransformConfig{Stages: []TransformStage{
		{Kind: "project", Paths: []string{"result.token", "result.status"}},
		{Kind: "rename", From: "result.status", To: "result.state"},
		{Kind: "redact", Path: "result.token"},
	}}

	out, err := ApplyTransform(cfg, value)
	require.NoError(t, err)

	result := out.(map[string]any)["result"].(map[string]any)
	assert.Equal(t, "[REDACTED]", result["token"])
	assert.Equal(t, "ok", result["state"])
	assert.NotContains(t, result, "status")
}

func TestApplyTransform_MissingPathIsNoop(t *testing.T) {
	value := map[string]any{"a": 1}
	cfg := TransformConfig{Stages: []TransformStage{
		{Kind: "redact", Path: "does.not.exist"},
	}}

	out, err := ApplyTransform(cfg, value)
	require.NoError(t, err)
	assert.Equal(t, value, out)
}

func TestApplyTransform_UnknownStageErrors(t *testing.T) {
	cfg := TransformConfig{Stages: []TransformStage{{Kind: "bogus"}}}
	_, err := ApplyTransform(cfg, map[string]any{})
	assert.Error(t, err)
}

func TestExtractPath_ArrayIndexing(t *testing.T) {
	value := map[string]any{"items": []any{
		map[string]any{"name": "first"},
		map[string]any{"name": "second"},
	}}
	assert.Equal(t, "second", ExtractPath(value, "items.1.name"))
}

func TestExtractPath_MissingKeyYieldsNil(t *testing.T) {
	value := map[string]any{"a": map[string]any{"b": 1}}
	assert.Nil(t, ExtractPath(value, "a.c"))
}
