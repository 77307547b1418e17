package bot

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var mentionRe = regexp.MustCompile(`^<@!?([^>\s]+)>$`)

// Command is a parsed slash command.
type Command struct {
	Name     string
	Options  map[string]string
	Mentions []string
	Args     []string
	// Raw is everything after the command name, untouched.
	Raw string
}

// ParseCommand splits "/name key=value <@id> arg" into its parts.
func ParseCommand(content string) (Command, error) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "/") {
		return Command{}, errors.New("commands start with /")
	}
	content = content[1:]
	name, raw, _ := strings.Cut(content, " ")
	cmd := Command{
		Name:    strings.ToLower(name),
		Options: make(map[string]string),
		Raw:     strings.TrimSpace(raw),
	}
	if cmd.Name == "" {
		return Command{}, errors.New("missing command name")
	}
	for _, tok := range strings.Fields(cmd.Raw) {
		if m := mentionRe.FindStringSubmatch(tok); m != nil {
			cmd.Mentions = append(cmd.Mentions, m[1])
			continue
		}
		if k, v, ok := strings.Cut(tok, "="); ok && k != "" {
			cmd.Options[strings.ToLower(k)] = v
			continue
		}
		cmd.Args = append(cmd.Args, tok)
	}
	return cmd, nil
}

// Option returns the named option or def.
func (c Command) Option(key, def string) string {
	if v, ok := c.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// Int returns the named option as an int, def when absent.
func (c Command) Int(key string, def int) (int, error) {
	v, ok := c.Options[key]
	if !ok || v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
