package response

import (
	"fmt"
	"log/slog"

	dg "github.com/bwmarrin/discordgo"

	"github.com/null2264/ziBot-new/internal/utils"
)

// Responder sends replies for prefix commands. It is the single outbound
// path, so user-facing failures keep one shape.
type Responder struct {
	s *dg.Session
	l *slog.Logger
}

func NewSessionResponder(s *dg.Session, l *slog.Logger) *Responder {
	return &Responder{s: s, l: l}
}

func (r *Responder) Reply(m *dg.Message, content string) error {
	_, err := r.s.ChannelMessageSendReply(m.ChannelID, content, m.Reference())
	return err
}

func (r *Responder) Embed(m *dg.Message, embed *dg.MessageEmbed) error {
	_, err := r.s.ChannelMessageSendComplex(m.ChannelID, &dg.MessageSend{
		Embeds:    []*dg.MessageEmbed{embed},
		Reference: m.Reference(),
	})
	return err
}

// Fail surfaces a policy rejection or operational error as a descriptive
// embed, never a crash.
func (r *Responder) Fail(m *dg.Message, f utils.Failure) error {
	r.l.Warn("command failure", "type", f.Type, "message", f.Message, "data", f.Data)

	var title, description string
	var color int
	switch f.Type {
	case utils.ErrInternal:
		description = fmt.Sprintf("%s\n\nSomething went wrong on our end. Try again later.", f.Message)
		color = 0xFF0000

	case utils.ErrBadInput:
		title = "Invalid Input"
		description = fmt.Sprintf("%s\n\nDouble-check your input and try again.", f.Message)
		color = 0xFFA500

	case utils.ErrNotAllowed:
		title = "Permission Denied"
		description = f.Message
		color = 0xFF0000

	case utils.ErrNotFound:
		title = "Not Found"
		description = f.Message
		color = 0xFFA500
	}

	return r.Embed(m, &dg.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
	})
}
