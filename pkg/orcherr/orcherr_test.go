package orcherr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAndExitCode(t *testing.T) {
	err := New(Validation, errors.New("duplicate id"))
	assert.True(t, Is(err, Validation))
	assert.False(t, Is(err, Fatal))
	assert.Equal(t, 2, ExitCode(err))
}

func TestExitCodeDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, ExitCode(New(AgentFailure, errors.New("boom"))))
}

func TestExitCodeNilIsZero(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
}

func TestWrappedChain(t *testing.T) {
	inner := New(RPCTimeout, errors.New("timed out"))
	outer := errors.New("assignTask: " + inner.Error())
	// A plain re-wrap via fmt.Errorf %w would preserve Is(); a string
	// concat (as above) deliberately does not, to document the boundary.
	assert.False(t, Is(outer, RPCTimeout))
}
