package resolver

import (
	"strings"
	"unicode"

	"github.com/null2264/ziBot-new/internal/prefix"
)

type Priority int

const (
	// PriorityBuiltin tries the statically registered command first.
	PriorityBuiltin Priority = iota
	// PriorityCustom tries the guild's user-authored command first.
	PriorityCustom
)

// Classification is the immutable result of classifying one message. It is
// produced once and passed onward; nothing downstream re-derives it from
// the raw message.
type Classification struct {
	Prefix    string
	Priority  Priority
	UnixStyle bool

	// Content is the message text after the prefix with any priority
	// marker stripped, so built-in parsing never sees the marker.
	Content string
	Command string
	Args    string
}

// Classify matches the message against the ordered prefix list and splits
// it into an executable intent. The second return is false for the common
// "not a command" case.
func Classify(content string, prefixes []string) (Classification, bool) {
	p, ok := prefix.Match(content, prefixes)
	if !ok {
		return Classification{}, false
	}

	body := content[len(p):]

	c := Classification{Prefix: p, Priority: PriorityBuiltin}
	if strings.HasPrefix(body, "./") {
		// Unix-style launch of a custom script, `./command`.
		c.Priority = PriorityCustom
		c.UnixStyle = true
		body = body[2:]
	} else if strings.HasPrefix(body, ">") {
		c.Priority = PriorityCustom
		body = body[1:]
	}

	c.Content = body
	c.Command, c.Args = splitCommand(body)

	return c, true
}

// splitCommand cuts on the first whitespace run into a command token and
// the argument remainder.
func splitCommand(body string) (string, string) {
	i := strings.IndexFunc(body, unicode.IsSpace)
	if i < 0 {
		return body, ""
	}

	return body[:i], strings.TrimLeftFunc(body[i:], unicode.IsSpace)
}
