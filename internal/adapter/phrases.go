package adapter

// toolPhrases maps tool names to the transition sentence streamed before
// their tool_use blocks. Data, not logic: replace or extend as tools evolve.
var toolPhrases = map[string]string{
	"get_weather":     "Let me check the current weather for you.",
	"get_time":        "Let me look up the current time.",
	"web_search":      "Let me search the web for that.",
	"calculator":      "Let me work that out.",
	"get_news":        "Let me find the latest news on that.",
	"read_file":       "Let me read that file.",
	"run_command":     "Let me run that for you.",
	"search_files":    "Let me search the files for that.",
	"send_email":      "Let me draft that email.",
	"create_reminder": "Let me set that reminder up.",
}

// genericToolPhrase covers tools with no dedicated entry.
const genericToolPhrase = "Let me use a tool to help with that."

// PhraseForTool returns the transition sentence for a tool name.
func PhraseForTool(name string) string {
	if phrase, ok := toolPhrases[name]; ok {
		return phrase
	}
	return genericToolPhrase
}
