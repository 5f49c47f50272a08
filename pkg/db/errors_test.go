package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil, ""))
	assert.True(t, IsUniqueViolation(errors.New(`ERROR: duplicate key value violates unique constraint "ux_vendor_service"`), ""))
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: automation_rules.name"), ""))
	assert.True(t, IsUniqueViolation(errors.New(`violates unique constraint "ux_vendor_service"`), "ux_vendor_service"))
	assert.False(t, IsUniqueViolation(errors.New("connection reset"), ""))
}
