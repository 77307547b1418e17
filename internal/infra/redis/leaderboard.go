package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"noob2root-bot/internal/domain"
)

// LeaderboardKey is the sorted set holding every user's total points.
const LeaderboardKey = "leaderboard:points"

// Leaderboard ranks users with a Redis sorted set.
type Leaderboard struct {
	client *redis.Client
}

func NewLeaderboard(client *redis.Client) *Leaderboard {
	return &Leaderboard{client: client}
}

func (l *Leaderboard) Record(ctx context.Context, userID string, points int) error {
	return l.client.ZAdd(ctx, LeaderboardKey, redis.Z{
		Score:  float64(points),
		Member: userID,
	}).Err()
}

// Top returns the highest totals first.
func (l *Leaderboard) Top(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	results, err := l.client.ZRevRangeWithScores(ctx, LeaderboardKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange: %w", err)
	}
	entries := make([]domain.LeaderboardEntry, len(results))
	for i, result := range results {
		member, _ := result.Member.(string)
		entries[i] = domain.LeaderboardEntry{
			UserID: member,
			Score:  int(result.Score),
			Rank:   i + 1,
		}
	}
	return entries, nil
}
