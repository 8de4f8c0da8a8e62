package access_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mihaimyh/goaccess/pkg/access"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		state access.GateState
		want  access.Decision
	}{
		{access.GateState{Loading: true}, access.DecisionLoading},
		{access.GateState{Loading: true, HasAccess: true}, access.DecisionLoading},
		{access.GateState{HasAccess: true}, access.DecisionAllow},
		{access.GateState{}, access.DecisionDeny},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, access.Decide(tt.state))
		})
	}
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, access.DecisionAllow, access.Decide(access.StateOf(access.Resolution{HasAccess: true})))
	assert.Equal(t, access.DecisionDeny, access.Decide(access.StateOf(access.Resolution{})))
}
