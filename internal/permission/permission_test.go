package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnabledToolsAllowsEverythingWhenEmpty(t *testing.T) {
	perms := FromEnabledTools(nil)
	assert.Equal(t, DefaultToolPermissions(), perms)
}

func TestFromEnabledToolsDeniesUnlistedTools(t *testing.T) {
	perms := FromEnabledTools([]string{"create_cell"})
	assert.Equal(t, ActionAllow, perms[TypeCreateCell])
	assert.Equal(t, ActionDeny, perms[TypeModifyCell])
	assert.Equal(t, ActionDeny, perms[TypeExecuteCell])
}

func TestCheckerAllowsByDefault(t *testing.T) {
	c := NewChecker(nil)
	err := c.Check(Request{SessionID: "s1", Type: TypeCreateCell})
	assert.NoError(t, err)
}

func TestCheckerDeniesConfiguredType(t *testing.T) {
	c := NewChecker(ToolPermissions{TypeExecuteCell: ActionDeny})
	err := c.Check(Request{SessionID: "s1", Type: TypeExecuteCell, ToolCallID: "call-1"})
	require.Error(t, err)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, TypeExecuteCell, rejected.Type)
	assert.True(t, IsRejectedError(err))
}

func TestCheckerAskRejects(t *testing.T) {
	c := NewChecker(ToolPermissions{TypeModifyCell: ActionAsk})
	err := c.Check(Request{SessionID: "s1", Type: TypeModifyCell})
	require.Error(t, err)
	assert.True(t, IsRejectedError(err))
}

func TestDoomLoopDetectsRepeatedCalls(t *testing.T) {
	d := NewDoomLoopDetector()
	input := map[string]any{"cellId": "c1"}

	assert.False(t, d.Check("s1", "execute_cell", input))
	assert.False(t, d.Check("s1", "execute_cell", input))
	assert.True(t, d.Check("s1", "execute_cell", input), "third identical call should trip the detector")
}

func TestDoomLoopResetsOnDifferentCall(t *testing.T) {
	d := NewDoomLoopDetector()
	d.Check("s1", "execute_cell", map[string]any{"cellId": "c1"})
	d.Check("s1", "execute_cell", map[string]any{"cellId": "c1"})
	assert.False(t, d.Check("s1", "execute_cell", map[string]any{"cellId": "c2"}), "a different call should break the run")
}

func TestDoomLoopClearRemovesHistory(t *testing.T) {
	d := NewDoomLoopDetector()
	input := map[string]any{"cellId": "c1"}
	d.Check("s1", "execute_cell", input)
	d.Check("s1", "execute_cell", input)
	d.Clear("s1")
	assert.False(t, d.Check("s1", "execute_cell", input), "history should be gone after Clear")
}

func TestDoomLoopIsolatesSessions(t *testing.T) {
	d := NewDoomLoopDetector()
	input := map[string]any{"cellId": "c1"}
	d.Check("s1", "execute_cell", input)
	d.Check("s1", "execute_cell", input)
	assert.False(t, d.Check("s2", "execute_cell", input), "a different session's history must not count")
}
