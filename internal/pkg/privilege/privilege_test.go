package privilege

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stub(t *testing.T, elevated bool, relaunchErr error) *int {
	t.Helper()
	origElevated, origRelaunch := isElevated, relaunch
	t.Cleanup(func() { isElevated, relaunch = origElevated, origRelaunch })

	calls := 0
	isElevated = func() bool { return elevated }
	relaunch = func() error {
		calls++
		return relaunchErr
	}
	return &calls
}

func TestRequire_Elevated(t *testing.T) {
	calls := stub(t, true, nil)
	assert.NoError(t, Require(func(string) bool {
		t.Fatal("must not prompt when elevated")
		return false
	}))
	assert.Equal(t, 0, *calls)
}

func TestRequire_Declined(t *testing.T) {
	calls := stub(t, false, nil)
	assert.ErrorIs(t, Require(func(string) bool { return false }), ErrNotElevated)
	assert.ErrorIs(t, Require(nil), ErrNotElevated)
	assert.Equal(t, 0, *calls)
}

func TestRequire_Relaunched(t *testing.T) {
	calls := stub(t, false, nil)
	assert.ErrorIs(t, Require(func(string) bool { return true }), ErrRelaunched)
	assert.Equal(t, 1, *calls)
}

func TestRequire_RelaunchFails(t *testing.T) {
	boom := errors.New("no uac")
	stub(t, false, boom)
	assert.ErrorIs(t, Require(func(string) bool { return true }), boom)
}

func TestIsElevated_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { _ = IsElevated() })
}
