package commands

// CommandName declares supported command identifiers.
const (
	CmdInit           = "init"
	CmdParse          = "parse"
	CmdDiff           = "diff"
	CmdSync           = "sync"
	CmdWriteState     = "write-state"
	CmdStatus         = "status"
	CmdHistory        = "history"
	CmdWatch          = "watch"
	CmdDetectTemplate = "detect-template"
	CmdVersion        = "version"
	CmdHelp           = "help"
	CmdCompletion     = "completion"
)

// All lists the user-facing commands.
func All() []string {
	return []string{
		CmdInit,
		CmdParse,
		CmdDiff,
		CmdSync,
		CmdWriteState,
		CmdStatus,
		CmdHistory,
		CmdWatch,
		CmdDetectTemplate,
		CmdVersion,
		CmdHelp,
	}
}
