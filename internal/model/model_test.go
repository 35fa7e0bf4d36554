package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCustomerStatus_Valid(t *testing.T) {
	assert.True(t, StatusActive.Valid())
	assert.True(t, StatusInactive.Valid())
	assert.True(t, StatusLead.Valid())
	assert.False(t, CustomerStatus("archived").Valid())
	assert.False(t, CustomerStatus("").Valid())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Sales_Rep ")
	assert.NoError(t, err)
	assert.Equal(t, RoleSalesRep, r)

	_, err = ParseRole("owner")
	assert.Error(t, err)
}

func TestCustomer_HasDocument(t *testing.T) {
	empty := ""
	url := "http://cdn/uploads/a.pdf"

	assert.False(t, (&Customer{}).HasDocument())
	assert.False(t, (&Customer{DocumentURL: &empty}).HasDocument())
	assert.True(t, (&Customer{DocumentURL: &url}).HasDocument())
}

func TestPatches_IsEmpty(t *testing.T) {
	name := "Ann"
	assert.True(t, CustomerPatch{}.IsEmpty())
	assert.False(t, CustomerPatch{Name: &name}.IsEmpty())
	assert.False(t, CustomerPatch{DocumentURL: &name}.IsEmpty())

	assert.True(t, UserPatch{}.IsEmpty())
	assert.False(t, UserPatch{FirstName: &name}.IsEmpty())
}
