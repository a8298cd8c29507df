package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		kind  Kind
		id    int64
		hasID bool
	}{
		{input: "/help", kind: CmdHelp},
		{input: "HELP me", kind: CmdHelp},
		{input: "/findjobs", kind: CmdFindJobs},
		{input: "please find jobs for me", kind: CmdFindJobs},
		{input: "/review", kind: CmdReview},
		{input: "/showqueue", kind: CmdReview},
		{input: "what's in my queue?", kind: CmdReview},
		{input: "/stats", kind: CmdStats},
		{input: "show statistics", kind: CmdStats},
		{input: "/approve 3", kind: CmdApprove, id: 3, hasID: true},
		{input: "/approve3", kind: CmdApprove, id: 3, hasID: true},
		{input: "✅ 2", kind: CmdApprove, id: 2, hasID: true},
		{input: "approve", kind: CmdApprove},
		{input: "/REJECT 12", kind: CmdReject, id: 12, hasID: true},
		{input: "❌ 4", kind: CmdReject, id: 4, hasID: true},
		{input: "/generate 7", kind: CmdGenerate, id: 7, hasID: true},
		{input: "please regenerate job 5 and 6", kind: CmdGenerate, id: 5, hasID: true},
		{input: "/profile", kind: CmdProfile},
		{input: "/preferences", kind: CmdProfile},
		{input: "thanks!", kind: CmdThanks},
		{input: "", kind: CmdUnknown},
		{input: "   ", kind: CmdUnknown},
		{input: "/", kind: CmdUnknown},
		{input: "/aprove 3", kind: CmdUnknown, id: 3, hasID: true},
		{input: "hello there", kind: CmdUnknown},
		{input: "approve 99999999999999999999999", kind: CmdApprove, id: 0, hasID: true},
		{input: "/reject 1000000000000000001", kind: CmdReject, id: 1000000000000000001, hasID: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd := Parse(tt.input)
			assert.Equal(t, tt.kind, cmd.Kind)
			assert.Equal(t, tt.hasID, cmd.HasID)
			assert.Equal(t, tt.id, cmd.ID)
		})
	}
}

func TestParse_InvalidUTF8(t *testing.T) {
	cmd := Parse("appr\xffove 1")
	assert.Equal(t, "approve 1", cmd.Raw)
	assert.Equal(t, CmdApprove, cmd.Kind)
}

func TestKind_NeedsID(t *testing.T) {
	assert.True(t, CmdApprove.NeedsID())
	assert.True(t, CmdGenerate.NeedsID())
	assert.False(t, CmdStats.NeedsID())
}
