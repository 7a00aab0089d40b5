package protocol

// Action is the client status carried by ChangeAction. It keeps the raw
// byte so unmapped values survive a decode/encode cycle unchanged.
type Action uint8

const (
	ActionIdle Action = iota
	ActionAfk
	ActionPlaying
	ActionEditing
	ActionModding
	ActionMultiplayer
	ActionWatching
	ActionUnknown
	ActionTesting
	ActionSubmitting
	ActionPaused
	ActionLobby
	ActionMultiplaying
	ActionOsuDirect
)

var actionNames = [...]string{
	ActionIdle:         "Idle",
	ActionAfk:          "Afk",
	ActionPlaying:      "Playing",
	ActionEditing:      "Editing",
	ActionModding:      "Modding",
	ActionMultiplayer:  "Multiplayer",
	ActionWatching:     "Watching",
	ActionUnknown:      "Unknown",
	ActionTesting:      "Testing",
	ActionSubmitting:   "Submitting",
	ActionPaused:       "Paused",
	ActionLobby:        "Lobby",
	ActionMultiplaying: "Multiplaying",
	ActionOsuDirect:    "OsuDirect",
}

// Known reports whether a is one of the named actions.
func (a Action) Known() bool {
	return int(a) < len(actionNames)
}

// String returns the action name, or "Unknown" for unmapped bytes.
func (a Action) String() string {
	if a.Known() {
		return actionNames[a]
	}
	return actionNames[ActionUnknown]
}
