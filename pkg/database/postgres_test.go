package database

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "billing_batches_month_year_key"})

	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "billing_batches_month_year_key"))
	assert.False(t, IsUniqueViolation(err, "students_nis_key"))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}, ""))
	assert.False(t, IsUniqueViolation(fmt.Errorf("boom"), ""))
}
