package app

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"noob2root-bot/internal/domain"
)

func title(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func numberedOptions(q domain.Question) string {
	lines := make([]string, len(q.Options))
	for i, opt := range q.Options {
		lines[i] = fmt.Sprintf("%d. %s", i+1, opt)
	}
	return strings.Join(lines, "\n")
}

func (c *Coordinator) mentions(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = c.platform.Mention(id)
	}
	return out
}

func questionText(s *Session, n int, q domain.Question, players []string, window time.Duration) string {
	header := fmt.Sprintf("(%s, %s)", title(s.Category()), title(s.Difficulty()))
	body := fmt.Sprintf("**%s**\n%s", q.Text, numberedOptions(q))
	secs := int(window.Round(time.Second) / time.Second)
	switch s.Mode() {
	case domain.ModeDuel:
		return fmt.Sprintf("🧩 Duel Question %d/%d %s\n%s\n%s, reply with 1-4 within %d seconds!",
			n, s.Rounds(), header, body, strings.Join(players, " and "), secs)
	case domain.ModeGroup:
		return fmt.Sprintf("🧩 Group Duel Q%d/%d %s\n%s\nPlayers: %s, reply with 1-4 within %d seconds!",
			n, s.Rounds(), header, body, strings.Join(players, " "), secs)
	}
	return fmt.Sprintf("🧩 Quiz %d/%d %s!\n%s", n, s.Rounds(), header, body)
}

func noQuestionText(s *Session, n int) string {
	switch s.Mode() {
	case domain.ModeDuel:
		return fmt.Sprintf("❌ No valid unique question for Q%d. Skipping.", n)
	case domain.ModeGroup:
		return fmt.Sprintf("❌ No valid unique quiz question for Q%d. Skipping.", n)
	}
	return fmt.Sprintf("❌ No valid unique AI quiz question available for %s (Q%d). Try again later or with a different category/difficulty.", s.Category(), n)
}

func invitationText(s *Session, initiator string, invitees []string) string {
	what := fmt.Sprintf("a %d-question quiz duel in %s (difficulty: %s)!", s.Rounds(), title(s.Category()), title(s.Difficulty()))
	if s.Mode() == domain.ModeDuel {
		return fmt.Sprintf("👾 %s has challenged %s to %s %s, type 'accept' to play or 'decline' to ignore.",
			initiator, invitees[0], what, invitees[0])
	}
	return fmt.Sprintf("👾 %s has challenged %s to %s Each, type 'accept' to play or 'decline' to ignore.",
		initiator, strings.Join(invitees, " "), what)
}

func scopeName(initiator string, invitees []string) string {
	return fmt.Sprintf("Quiz Duel: %s vs %s", initiator, strings.Join(invitees, "/"))
}
