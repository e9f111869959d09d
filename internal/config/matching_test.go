package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/booksight/internal/source"
)

func TestDefaultMatchingConfig_IsValid(t *testing.T) {
	assert.NoError(t, validateMatchingConfig(DefaultMatchingConfig()))
}

func TestMatchingConfig_MappingIsCaseInsensitive(t *testing.T) {
	cfg := DefaultMatchingConfig()

	m, ok := cfg.Mapping(source.Source2)
	require.True(t, ok)
	assert.Equal(t, FieldName, m.Customers["full_name"])
	assert.Equal(t, FieldUnitPrice, m.Orders["price"])
}

func TestValidateMatchingConfig_RejectsBadCompositeField(t *testing.T) {
	cfg := DefaultMatchingConfig()
	cfg.CompositeField = "email"

	err := validateMatchingConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compositeField")
}

func TestValidateMatchingConfig_RejectsMissingSource(t *testing.T) {
	cfg := DefaultMatchingConfig()
	delete(cfg.Sources, "s2")

	assert.Error(t, validateMatchingConfig(cfg))
}

func TestValidateMatchingConfig_RejectsIncompleteMapping(t *testing.T) {
	cfg := DefaultMatchingConfig()
	s1 := cfg.Sources["s1"]
	s1.Orders = FieldMapping{"user_id": FieldCustomerID}
	cfg.Sources["s1"] = s1

	err := validateMatchingConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s1")
}

func TestStaticMatchingHolder(t *testing.T) {
	cfg := DefaultMatchingConfig()
	cfg.CompositeField = CompositePhone

	holder := NewStaticMatchingHolder(cfg)
	assert.Equal(t, CompositePhone, holder.Get().CompositeField)
}
