package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		wire string
	}{
		{"no such object", NoSuchObject("comp"), KindNoSuchObject, "no such object: <comp>"},
		{"no such property", NoSuchProperty("comp.x.bogus"), KindNoSuchProperty, "no such property <comp.x.bogus>."},
		{"cannot set", CannotSet("comp.y"), KindCannotSet, "cannot set <comp.y>."},
		{"invalid syntax", InvalidSyntax("end <object>"), KindInvalidSyntax, "invalid syntax. Proper syntax:\nend <object>"},
		{"not implemented", NotImplemented("move"), KindNotImplemented, "not implemented: move"},
		{"bad transition", ErrBadTransition, KindBadTransition, "Can only transition from 'cooked' to 'raw'"},
		{"internal", Internal(fmt.Errorf("boom")), KindInternal, "Exception: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wire, WireMessage(tt.err))
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.True(t, IsKind(tt.err, tt.kind))
		})
	}
}

func TestWireMessageUnclassified(t *testing.T) {
	err := fmt.Errorf("disk on fire")
	assert.Equal(t, "Exception: disk on fire", WireMessage(err))
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestWrap(t *testing.T) {
	require.NoError(t, Wrap(nil, "Stream", "Send", "write"))

	err := Wrap(fmt.Errorf("broken pipe"), "Stream", "Send", "write")
	assert.EqualError(t, err, "Stream.Send: write failed: broken pipe")
}

func TestInternalUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Internal(cause)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, cause, pe.Unwrap())
}
