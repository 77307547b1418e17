package memory

import (
	"context"
	"sort"
	"sync"

	"noob2root-bot/internal/domain"
)

// Leaderboard ranks users by their latest recorded total.
type Leaderboard struct {
	mu     sync.RWMutex
	points map[string]int
}

func NewLeaderboard() *Leaderboard {
	return &Leaderboard{points: make(map[string]int)}
}

func (l *Leaderboard) Record(_ context.Context, userID string, points int) error {
	l.mu.Lock()
	l.points[userID] = points
	l.mu.Unlock()
	return nil
}

// Top orders by points desc, then user id for a stable result.
func (l *Leaderboard) Top(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	l.mu.RLock()
	entries := make([]domain.LeaderboardEntry, 0, len(l.points))
	for id, pts := range l.points {
		entries = append(entries, domain.LeaderboardEntry{UserID: id, Score: pts})
	}
	l.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID < entries[j].UserID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}
