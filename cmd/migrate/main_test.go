package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMigrator struct {
	mock.Mock
}

func (m *mockMigrator) Up() error               { return m.Called().Error(0) }
func (m *mockMigrator) Down() error             { return m.Called().Error(0) }
func (m *mockMigrator) Goto(version uint) error { return m.Called(version).Error(0) }
func (m *mockMigrator) Force(version int) error { return m.Called(version).Error(0) }

func (m *mockMigrator) Version() (uint, bool, error) {
	args := m.Called()
	return args.Get(0).(uint), args.Bool(1), args.Error(2)
}

func TestCheckArgs(t *testing.T) {
	assert.NoError(t, checkArgs("up", -1))
	assert.NoError(t, checkArgs("force", 0))
	assert.Error(t, checkArgs("sideways", -1))
	assert.Error(t, checkArgs("goto", -1))
	assert.Error(t, checkArgs("goto", 0))
	assert.Error(t, checkArgs("force", -1))
}

func TestRunRejectsBadArgsBeforeConnecting(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run([]string{"--action", "goto"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "--version must be a positive number")
	assert.Empty(t, out.String())
}

func TestApplyUpReportsVersion(t *testing.T) {
	m := new(mockMigrator)
	m.On("Up").Return(nil)
	m.On("Version").Return(uint(1), false, nil)

	var out bytes.Buffer
	require.NoError(t, apply(m, "up", -1, 1, &out))
	assert.Equal(t, "Schema version: 1 of 1\n", out.String())
	m.AssertExpectations(t)
}

func TestApplyStatusPending(t *testing.T) {
	m := new(mockMigrator)
	m.On("Version").Return(uint(0), true, nil)

	var out bytes.Buffer
	require.NoError(t, apply(m, "status", -1, 1, &out))
	assert.Contains(t, out.String(), "Schema version: 0 of 1 (dirty")
	assert.Contains(t, out.String(), "Pending migrations available")
}

func TestApplyGotoFailure(t *testing.T) {
	m := new(mockMigrator)
	m.On("Goto", uint(3)).Return(errors.New("file does not exist"))

	var out bytes.Buffer
	assert.Error(t, apply(m, "goto", 3, 1, &out))
	m.AssertNotCalled(t, "Version")
}
