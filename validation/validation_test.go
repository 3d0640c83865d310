package validation_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/signalkernel/validation"
)

const choiceSchema = `{
	"type": "object",
	"properties": {
		"choice": {"type": "string", "enum": ["yes", "no"]}
	},
	"required": ["choice"],
	"additionalProperties": false
}`

func TestSchema_ValidateJSON(t *testing.T) {
	s, err := validation.Compile("choice.json", []byte(choiceSchema))
	require.NoError(t, err)

	require.NoError(t, s.ValidateJSON([]byte(`{"choice":"yes"}`)))

	err = s.ValidateJSON([]byte(`{"choice":"maybe"}`))
	require.Error(t, err)

	err = s.ValidateJSON([]byte(`not json`))
	require.Error(t, err)
}

func TestRegistry_RegisterAndValidator(t *testing.T) {
	r := validation.NewRegistry()
	require.NoError(t, r.Register("choice", []byte(choiceSchema)))

	_, ok := r.Get("choice")
	require.True(t, ok)

	validate := r.Validator("choice")
	require.Equal(t, "", validate(`{"choice":"no"}`))
	require.NotEqual(t, "", validate(`{"choice":"maybe"}`))
}

func TestRegistry_ValidatorUnknownSchema(t *testing.T) {
	r := validation.NewRegistry()
	validate := r.Validator("missing")
	msg := validate(`{}`)
	require.Contains(t, msg, "missing")
}

func TestCompile_InvalidSchemaJSON(t *testing.T) {
	_, err := validation.Compile("bad.json", []byte(`{not json`))
	require.Error(t, err)
}
