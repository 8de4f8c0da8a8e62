package access_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mihaimyh/goaccess/pkg/access"
)

func TestPlanRules_Normalize(t *testing.T) {
	rules := access.DefaultPlanRules()

	tests := []struct {
		name      string
		product   string
		amount    float64
		want      access.Plan
		fromTable bool
	}{
		{"annual by name", "Plano Anual", 97, access.PlanAnnual, false},
		{"annual by amount", "Acesso Importadoras", 147, access.PlanAnnual, false},
		{"annual name case-insensitive", "PLANO ANUAL PROMO", 0, access.PlanAnnual, false},
		{"monthly by name", "Plano Mensal", 0, access.PlanMonthly, false},
		{"monthly by amount", "Acesso", 27, access.PlanMonthly, false},
		{"pass-through", "Ebook Fornecedores", 9.9, access.Plan("Ebook Fornecedores"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fromTable := rules.Normalize("", tt.product, tt.amount)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.fromTable, fromTable)
		})
	}
}

func TestPlanRules_MappingWins(t *testing.T) {
	rules := access.DefaultPlanRules()
	rules.Mapping = map[string]access.Plan{
		"prod_123":          access.PlanMonthly,
		"Combo Importadora": access.PlanAnnual,
	}

	// amount would say Anual, the table says Mensal
	got, fromTable := rules.Normalize("prod_123", "Plano Anual", 200)
	assert.Equal(t, access.PlanMonthly, got)
	assert.True(t, fromTable)

	got, fromTable = rules.Normalize("unknown", "combo importadora", 10)
	assert.Equal(t, access.PlanAnnual, got)
	assert.True(t, fromTable)
}

func TestComputeExpiration(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	explicit := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	got := access.ComputeExpiration(access.PlanAnnual, start, nil)
	if assert.NotNil(t, got) {
		assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *got)
	}

	got = access.ComputeExpiration(access.PlanMonthly, start, nil)
	if assert.NotNil(t, got) {
		assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *got)
	}

	got = access.ComputeExpiration(access.PlanAnnual, start, &explicit)
	if assert.NotNil(t, got) {
		assert.Equal(t, explicit, *got)
	}

	assert.Nil(t, access.ComputeExpiration(access.Plan("Ebook"), start, nil))
}
