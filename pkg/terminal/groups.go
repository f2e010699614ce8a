package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	queryCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Querying functions and variables", queryCmds},
	{"Other commands", otherCmds},
}
