package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"noob2root-bot/internal/domain"
	"noob2root-bot/internal/monitoring"
)

// ParseAnswer accepts a trimmed integer 1..4.
func ParseAnswer(content string) (int, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, false
	}
	for _, r := range content {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(content)
	if err != nil || n < 1 || n > 4 {
		return 0, false
	}
	return n, true
}

// Collector gathers one answer per expected participant within a round window.
type Collector struct {
	platform Platform
	metrics  *monitoring.Metrics
}

func NewCollector(p Platform, m *monitoring.Metrics) *Collector {
	return &Collector{platform: p, metrics: m}
}

// RoundCollection is a round subscription armed ahead of the question broadcast.
type RoundCollection struct {
	expected map[string]struct{}
	sub      Subscription
	metrics  *monitoring.Metrics
}

// Begin subscribes to scopeID for answers from expected.
func (c *Collector) Begin(scopeID string, expected []string) *RoundCollection {
	set := make(map[string]struct{}, len(expected))
	for _, id := range expected {
		set[id] = struct{}{}
	}
	match := func(m domain.Message) bool {
		if m.Bot {
			return false
		}
		_, ok := set[m.AuthorID]
		return ok
	}
	return &RoundCollection{expected: set, sub: c.platform.Subscribe(scopeID, match), metrics: c.metrics}
}

// Collect runs a whole round: subscribe, then wait for answers.
func (c *Collector) Collect(ctx context.Context, scopeID string, expected []string, window time.Duration) map[string]int {
	return c.Begin(scopeID, expected).Collect(ctx, window)
}

// Collect returns the first valid answer of each participant received before
// the deadline. It stops early once everyone answered or ctx is done.
func (r *RoundCollection) Collect(ctx context.Context, window time.Duration) map[string]int {
	defer r.sub.Cancel()

	answers := make(map[string]int, len(r.expected))
	if len(r.expected) == 0 {
		return answers
	}

	deadline := time.NewTimer(window)
	defer deadline.Stop()

	for len(answers) < len(r.expected) {
		select {
		case msg, ok := <-r.sub.Messages():
			if !ok {
				r.metrics.AnswersCollected(len(answers))
				return answers
			}
			if _, expected := r.expected[msg.AuthorID]; !expected {
				continue
			}
			if _, done := answers[msg.AuthorID]; done {
				continue
			}
			n, valid := ParseAnswer(msg.Content)
			if !valid {
				continue
			}
			answers[msg.AuthorID] = n
		case <-deadline.C:
			r.metrics.AnswersCollected(len(answers))
			return answers
		case <-ctx.Done():
			r.metrics.AnswersCollected(len(answers))
			return answers
		}
	}
	r.metrics.AnswersCollected(len(answers))
	return answers
}
