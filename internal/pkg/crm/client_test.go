package crm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExternalIDFilterEscapesQuotes(t *testing.T) {
	tests := []struct {
		name       string
		externalID string
		want       string
	}{
		{"plain", "c1", `externalId[eq]:"c1"`},
		{"embedded quote", `c"1`, `externalId[eq]:"c\"1"`},
		{"backslash", `c\1`, `externalId[eq]:"c\\1"`},
		{"quote breakout attempt", `x" or externalId[neq]:"`, `externalId[eq]:"x\" or externalId[neq]:\""`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, externalIDFilter(tc.externalID))
		})
	}
}

func TestResourceNames(t *testing.T) {
	assert.Equal(t, "people", resourceName(EntityPerson))
	assert.Equal(t, "companies", resourceName(EntityCompany))
}
