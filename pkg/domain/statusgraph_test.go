package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalSequenceIsValid(t *testing.T) {
	path := []Status{StatusCreated}
	for _, dept := range DepartmentSequence() {
		path = append(path, AssignedTo(dept), InDepartment(dept), CompletedIn(dept))
	}
	path = append(path, StatusCompleted)

	for i := 0; i+1 < len(path); i++ {
		assert.True(t, IsValidTransition(path[i], path[i+1]), "%s -> %s: %s", path[i], path[i+1], Explain(path[i], path[i+1]))
	}
}

func TestRejectedTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{StatusCreated, InDepartment(DeptCleanroom)},
		{StatusCreated, StatusCreated},
		{AssignedTo(DeptNDI), InDepartment(DeptMachining)},
		{AssignedTo(DeptNDI), CompletedIn(DeptNDI)},
		{InDepartment(DeptNDI), CompletedIn(DeptAssembly)},
		{InDepartment(DeptNDI), AssignedTo(DeptMachining)},
		{CompletedIn(DeptCleanroom), AssignedTo(DeptNDI)},
		{CompletedIn(DeptNDI), AssignedTo(DeptCleanroom)},
		{CompletedIn(DeptNDI), StatusCompleted},
		{CompletedIn(DeptShipping), AssignedTo(DeptCleanroom)},
		{StatusOnHold, StatusCancelled},
		{StatusOnHold, CompletedIn(DeptNDI)},
		{StatusCancelled, StatusCreated},
		{StatusCompleted, AssignedTo(DeptCleanroom)},
		{Status{}, StatusCreated},
	}
	for _, tc := range cases {
		assert.False(t, IsValidTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
		assert.NotEmpty(t, Explain(tc.from, tc.to))
	}
}

func TestAllowedSideTransitions(t *testing.T) {
	assert.True(t, IsValidTransition(AssignedTo(DeptCoating), StatusCreated))
	assert.True(t, IsValidTransition(AssignedTo(DeptCoating), StatusCancelled))
	assert.True(t, IsValidTransition(InDepartment(DeptCoating), StatusOnHold))
	assert.True(t, IsValidTransition(InDepartment(DeptCoating), StatusCancelled))
	assert.True(t, IsValidTransition(StatusOnHold, InDepartment(DeptCoating)))
	assert.True(t, IsValidTransition(StatusCreated, AssignedTo(DeptShipping)))
}

func TestExplainMentionsDepartments(t *testing.T) {
	msg := Explain(CompletedIn(DeptCleanroom), AssignedTo(DeptNDI))
	assert.Contains(t, msg, "AUTOCLAVE")
	assert.Contains(t, Explain(StatusCompleted, StatusCreated), "terminal")
}

func TestBatchRollbackCompensations(t *testing.T) {
	assert.True(t, IsBatchRollback(InDepartment(DeptAutoclave), AssignedTo(DeptAutoclave)))
	assert.True(t, IsBatchRollback(CompletedIn(DeptAutoclave), InDepartment(DeptAutoclave)))
	assert.False(t, IsBatchRollback(CompletedIn(DeptAutoclave), InDepartment(DeptNDI)))
	assert.False(t, IsBatchRollback(AssignedTo(DeptAutoclave), InDepartment(DeptAutoclave)))
	assert.False(t, IsBatchRollback(StatusOnHold, InDepartment(DeptAutoclave)))
}
