package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTriadGeneratedPerDepartment(t *testing.T) {
	all := AllStatuses()
	require.Len(t, all, 1+3*len(DepartmentSequence())+3)

	seen := make(map[string]bool)
	for _, s := range all {
		name := s.String()
		require.NotEmpty(t, name)
		require.False(t, seen[name], "duplicate status %s", name)
		seen[name] = true

		parsed, err := ParseStatus(name)
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	assert.True(t, seen["ASSIGNED_TO_NDI"])
	assert.True(t, seen["IN_AUTOCLAVE"])
	assert.True(t, seen["SHIPPING_COMPLETED"])
}

func TestParseStatusRejectsUnknown(t *testing.T) {
	for _, raw := range []string{"", "IN_PAINTSHOP", "ASSIGNED_TO_", "DONE", "_COMPLETED"} {
		_, err := ParseStatus(raw)
		require.Error(t, err, raw)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
	s, err := ParseStatus(" in_ndi ")
	require.NoError(t, err)
	assert.Equal(t, InDepartment(DeptNDI), s)
}

func TestStatusConstructorsRejectUnknownDepartment(t *testing.T) {
	assert.True(t, AssignedTo(DepartmentType("PAINT")).IsZero())
	assert.False(t, AssignedTo(DeptCoating).IsZero())
	dept, ok := CompletedIn(DeptCoating).Department()
	assert.True(t, ok)
	assert.Equal(t, DeptCoating, dept)
	_, ok = StatusOnHold.Department()
	assert.False(t, ok)
}

func TestStatusJSON(t *testing.T) {
	type wrapper struct {
		Status   Status `json:"status"`
		HeldFrom Status `json:"held_from"`
	}
	raw, err := json.Marshal(wrapper{Status: CompletedIn(DeptCleanroom)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"CLEANROOM_COMPLETED","held_from":""}`, string(raw))

	var back wrapper
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, CompletedIn(DeptCleanroom), back.Status)
	assert.True(t, back.HeldFrom.IsZero())

	require.Error(t, json.Unmarshal([]byte(`{"status":"IN_NOWHERE"}`), &back))
}

func TestDepartmentSequence(t *testing.T) {
	next, ok := DeptCleanroom.Next()
	require.True(t, ok)
	assert.Equal(t, DeptAutoclave, next)

	_, ok = DeptShipping.Next()
	assert.False(t, ok)
	assert.True(t, DeptShipping.IsLast())

	prev, ok := DeptAutoclave.Previous()
	require.True(t, ok)
	assert.Equal(t, DeptCleanroom, prev)
	_, ok = DeptCleanroom.Previous()
	assert.False(t, ok)

	parsed, err := ParseDepartmentType("ndi")
	require.NoError(t, err)
	assert.Equal(t, DeptNDI, parsed)
	_, err = ParseDepartmentType("paint")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPriorityOrderingAndText(t *testing.T) {
	assert.Less(t, PriorityLow, PriorityNormal)
	assert.Less(t, PriorityHigh, PriorityUrgent)

	p, err := ParsePriority("urgent")
	require.NoError(t, err)
	assert.Equal(t, PriorityUrgent, p)

	_, err = Priority(9).MarshalText()
	assert.Error(t, err)
}
