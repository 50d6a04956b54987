package game

// Command is a director command with its category denormalized for display.
type Command struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	CategoryID    string `json:"categoryId"`
	CategoryTitle string `json:"categoryTitle"`
}

// CommandGroup is a display grouping of commands on the director panel.
type CommandGroup struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Commands []Command `json:"commands"`
}

// CommandGroups is the fixed catalog of commands a director can issue.
var CommandGroups = []CommandGroup{
	{
		ID:    "visual",
		Title: "Visual",
		Commands: []Command{
			{ID: "visual_closeup", Label: "Close-up"},
			{ID: "visual_angle", Label: "New angle"},
			{ID: "visual_eyes", Label: "Eye contact"},
		},
	},
	{
		ID:    "tempo",
		Title: "Tempo",
		Commands: []Command{
			{ID: "tempo_slow", Label: "Slow down"},
			{ID: "tempo_turbo", Label: "Turbo"},
			{ID: "tempo_freeze", Label: "Freeze"},
		},
	},
	{
		ID:    "sound",
		Title: "Sound",
		Commands: []Command{
			{ID: "sound_whisper", Label: "Whisper"},
			{ID: "sound_talk", Label: "Talk to chat"},
			{ID: "sound_silence", Label: "Silence"},
		},
	},
	{
		ID:    "acting",
		Title: "Acting",
		Commands: []Command{
			{ID: "acting_smile", Label: "Smile"},
			{ID: "acting_drama", Label: "Drama"},
		},
	},
}

var commandByID = buildCommandIndex()

func buildCommandIndex() map[string]Command {
	index := make(map[string]Command)
	for _, group := range CommandGroups {
		for _, cmd := range group.Commands {
			cmd.CategoryID = group.ID
			cmd.CategoryTitle = group.Title
			index[cmd.ID] = cmd
		}
	}
	return index
}

// CommandByID resolves a command id against the catalog.
func CommandByID(id string) (Command, bool) {
	cmd, ok := commandByID[id]
	return cmd, ok
}
