package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const personSchema = `{
	"$id": "test/person",
	"type": "object",
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"contact": {"$ref": "test/contact"}
	},
	"required": ["name"]
}`

const contactSchema = `{
	"$id": "test/contact",
	"type": "object",
	"properties": {
		"phone": {"type": "string"}
	},
	"required": ["phone"]
}`

func TestValidator(t *testing.T) {
	validator, err := NewValidator([]string{personSchema}, []string{contactSchema})
	require.NoError(t, err)

	assert.True(t, validator.HasSchema("test/person"))
	assert.False(t, validator.HasSchema("test/contact"))

	assert.NoError(t, validator.ValidateBytes([]byte(`{"name":"Ana"}`), "test/person"))
	assert.Error(t, validator.ValidateBytes([]byte(`{}`), "test/person"))
	assert.Error(t, validator.ValidateBytes([]byte(`not json`), "test/person"))
}

func TestValidatorResolvesReferences(t *testing.T) {
	validator, err := NewValidator([]string{personSchema}, []string{contactSchema})
	require.NoError(t, err)

	assert.NoError(t, validator.ValidateBytes(
		[]byte(`{"name":"Ana","contact":{"phone":"+5491155550000"}}`), "test/person"))
	assert.Error(t, validator.ValidateBytes(
		[]byte(`{"name":"Ana","contact":{}}`), "test/person"))
}

func TestValidatorUnknownSchema(t *testing.T) {
	validator, err := NewValidator([]string{personSchema}, nil)
	require.NoError(t, err)
	assert.Error(t, validator.ValidateBytes([]byte(`{}`), "test/missing"))
}

func TestValidatorRejectsSchemaWithoutID(t *testing.T) {
	_, err := NewValidator([]string{`{"type":"object"}`}, nil)
	assert.Error(t, err)
}
