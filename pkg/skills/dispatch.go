package skills

import "strings"

// ParsedCommand is a "/<name> <args>" input split into its parts.
type ParsedCommand struct {
	Name string
	Args string
}

// ParseCommand splits a slash-command input into name and arguments. It
// returns ok=false for input that doesn't start with "/".
func ParseCommand(input string) (cmd ParsedCommand, ok bool) {
	if !strings.HasPrefix(input, "/") {
		return ParsedCommand{}, false
	}
	rest := strings.TrimPrefix(input, "/")
	parts := strings.SplitN(rest, " ", 2)

	cmd.Name = parts[0]
	if len(parts) == 2 {
		cmd.Args = parts[1]
	}
	return cmd, true
}

// Router dispatches parsed slash commands against a loaded skill set.
type Router struct {
	skills []Skill
}

// NewRouter builds a router over an already-loaded skill set.
func NewRouter(skills []Skill) *Router {
	return &Router{skills: skills}
}

// Dispatch resolves input to a rewritten user message and the matched
// skill, or returns matched=false when input isn't a recognized command
// (in which case the caller should treat it as an ordinary message).
func (r *Router) Dispatch(input string) (rewritten string, matched Skill, ok bool) {
	cmd, isCommand := ParseCommand(input)
	if !isCommand {
		return "", Skill{}, false
	}

	if cmd.Name == "skill" {
		nameArgs := strings.SplitN(cmd.Args, " ", 2)
		fuzzyName := nameArgs[0]
		args := ""
		if len(nameArgs) == 2 {
			args = nameArgs[1]
		}
		skill, found := r.fuzzyMatch(fuzzyName)
		if !found {
			return "", Skill{}, false
		}
		return RewriteMessage(skill.Name, args), skill, true
	}

	skill, found := r.strictMatch(cmd.Name)
	if !found {
		return "", Skill{}, false
	}
	return RewriteMessage(skill.Name, cmd.Args), skill, true
}

// strictMatch resolves "/<name>" against the command name only.
func (r *Router) strictMatch(commandName string) (Skill, bool) {
	for _, s := range r.skills {
		if s.CommandName == commandName {
			return s, true
		}
	}
	return Skill{}, false
}

// fuzzyMatch resolves "/skill <name>" against the command name, the
// skill's own name, or the sanitized form of either.
func (r *Router) fuzzyMatch(name string) (Skill, bool) {
	normalized := sanitizeCommandName(name)
	for _, s := range r.skills {
		if s.CommandName == name || s.Name == name || sanitizeCommandName(s.Name) == normalized {
			return s, true
		}
	}
	return Skill{}, false
}

// RewriteMessage produces the fixed template the matched skill's user
// message is rewritten to before persistence.
func RewriteMessage(skillName, args string) string {
	return "Use the \"" + skillName + "\" skill for this request.\n\nUser input:\n" + args
}
