// Package chat maps free-form chat messages to pipeline actions and renders replies.
package chat

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind is a recognized chat command.
type Kind string

// Chat commands
const (
	CmdHelp     Kind = "help"
	CmdFindJobs Kind = "findjobs"
	CmdReview   Kind = "review"
	CmdStats    Kind = "stats"
	CmdGenerate Kind = "generate"
	CmdApprove  Kind = "approve"
	CmdReject   Kind = "reject"
	CmdProfile  Kind = "profile"
	CmdThanks   Kind = "thanks"
	CmdUnknown  Kind = "unknown"
)

// Command is one parsed message.
type Command struct {
	Kind  Kind
	ID    int64
	HasID bool
	// IDRef is the digit run ID was read from. ID is 0 when it overflows int64.
	IDRef string
	Raw   string
}

// slashCommands are matched exactly against the first word of a slash-prefixed message.
var slashCommands = map[string]Kind{
	"help":        CmdHelp,
	"start":       CmdHelp,
	"findjobs":    CmdFindJobs,
	"review":      CmdReview,
	"showqueue":   CmdReview,
	"stats":       CmdStats,
	"generate":    CmdGenerate,
	"approve":     CmdApprove,
	"reject":      CmdReject,
	"profile":     CmdProfile,
	"preferences": CmdProfile,
}

// aliases are natural-language triggers, checked in order against the lowercased message.
var aliases = []struct {
	kind    Kind
	phrases []string
}{
	{CmdHelp, []string{"help"}},
	{CmdFindJobs, []string{"find jobs", "find new jobs", "search jobs"}},
	{CmdReview, []string{"review", "queue"}},
	{CmdStats, []string{"statistics", "stats"}},
	{CmdApprove, []string{"✅", "approve"}},
	{CmdReject, []string{"❌", "reject"}},
	{CmdGenerate, []string{"generate", "regenerate"}},
	{CmdProfile, []string{"profile", "settings"}},
	{CmdThanks, []string{"thank"}},
}

var idPattern = regexp.MustCompile(`\d+`)

// Parse classifies text. It accepts any string, including empty and invalid UTF-8.
func Parse(text string) Command {
	raw := strings.ToValidUTF8(text, "")
	cmd := Command{Kind: CmdUnknown, Raw: raw}
	msg := strings.ToLower(strings.TrimSpace(raw))
	if msg == "" {
		return cmd
	}

	if m := idPattern.FindString(msg); m != "" {
		cmd.HasID = true
		cmd.IDRef = m
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			cmd.ID = id
		}
	}

	if strings.HasPrefix(msg, "/") {
		word := strings.TrimPrefix(strings.Fields(msg)[0], "/")
		// "/approve3" carries its id glued to the command
		word = strings.TrimRight(word, "0123456789")
		if kind, ok := slashCommands[word]; ok {
			cmd.Kind = kind
		}
		return cmd
	}

	for _, a := range aliases {
		for _, phrase := range a.phrases {
			if strings.Contains(msg, phrase) {
				cmd.Kind = a.kind
				return cmd
			}
		}
	}
	return cmd
}

// NeedsID reports whether the command acts on one application.
func (k Kind) NeedsID() bool {
	return k == CmdGenerate || k == CmdApprove || k == CmdReject
}
