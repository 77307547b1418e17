package domain

import (
	"strings"
	"time"
)

// Categories lists the quiz topics the bot knows about.
var Categories = []string{"cybersecurity", "blender", "webdev", "blockchain", "general"}

// Difficulties lists accepted difficulty levels.
var Difficulties = []string{"easy", "medium", "hard"}

// DefaultRoleThresholds is the unlock table used when none is configured.
var DefaultRoleThresholds = []RoleThreshold{
	{Name: "Cyber Pro", Points: 1000, Scope: "general"},
	{Name: "Blender Guru", Points: 2000, Scope: "blender"},
	{Name: "Web Dev Wizard", Points: 3000, Scope: "webdev"},
	{Name: "Blockchain Master", Points: 5000, Scope: "blockchain"},
	{Name: "NFT Pioneer", Points: 3000, Scope: "blockchain"},
}

// DefaultChallengeCatalog is the pool daily challenges are drawn from.
var DefaultChallengeCatalog = []ChallengeSpec{
	{
		Type:         ChallengeQuizMaster,
		Task:         "Score 80%+ on 5 quizzes in any category",
		Requirements: ChallengeRequirements{Ratio: 0.8, Count: 5},
		Points:       20,
	},
	{
		Type:         ChallengeProjectGuru,
		Task:         "Submit a blockchain project with 2+ upvotes",
		Requirements: ChallengeRequirements{Category: "blockchain", Upvotes: 2},
		Points:       25,
		Category:     "blockchain",
	},
	{
		Type:         ChallengeResourceHunter,
		Task:         "Add a featured resource and get 3+ upvotes",
		Requirements: ChallengeRequirements{Featured: true, Upvotes: 3},
		Points:       15,
	},
}

// NormalizeCategory lower-cases c and reports whether it is known.
func NormalizeCategory(c string) (string, bool) {
	c = strings.ToLower(strings.TrimSpace(c))
	return c, contains(Categories, c)
}

// NormalizeDifficulty lower-cases d and reports whether it is known.
func NormalizeDifficulty(d string) (string, bool) {
	d = strings.ToLower(strings.TrimSpace(d))
	return d, contains(Difficulties, d)
}

// Fingerprint lower-cases text and keeps only ASCII letters, digits and spaces.
func Fingerprint(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Day formats t as the calendar day used for streaks and challenges.
func Day(t time.Time) string {
	return t.Format("2006-01-02")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
