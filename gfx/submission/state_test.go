package submission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateStrings(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateRecording, "recording"},
		{StateRecorded, "recorded"},
		{StateSubmitted, "submitted"},
		{StateCompleted, "completed"},
		{StateDiscarded, "discarded"},
		{StateFailed, "failed"},
		{State(42), "unknown"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.state.String())
	}
}

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateRecording, StateRecorded, true},
		{StateRecording, StateDiscarded, true},
		{StateRecording, StateFailed, true},
		{StateRecording, StateSubmitted, false},
		{StateRecording, StateCompleted, false},
		{StateRecorded, StateSubmitted, true},
		{StateRecorded, StateDiscarded, true},
		{StateRecorded, StateFailed, true},
		{StateRecorded, StateCompleted, false},
		{StateSubmitted, StateCompleted, true},
		{StateSubmitted, StateFailed, true},
		{StateSubmitted, StateDiscarded, false},
		{StateSubmitted, StateRecorded, false},
		{StateCompleted, StateRecording, false},
		{StateDiscarded, StateRecorded, false},
		{StateFailed, StateSubmitted, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.canTransition(c.to), "%s to %s", c.from, c.to)
	}
}

func TestStateClassification(t *testing.T) {
	assert.True(t, StateRecording.Open())
	assert.True(t, StateRecorded.Open())
	assert.False(t, StateSubmitted.Open())
	assert.False(t, StateCompleted.Open())

	assert.False(t, StateRecording.Terminal())
	assert.False(t, StateSubmitted.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateDiscarded.Terminal())
	assert.True(t, StateFailed.Terminal())
}
