package app

import (
	"context"

	"go.uber.org/zap"

	"noob2root-bot/internal/domain"
)

const (
	BasePoints = 2
	AIBonus    = 5
	// StreakThreshold is the streak a participant must exceed for the ×1.5 multiplier.
	StreakThreshold = 2
)

// RoundAward is the base award for one answer, before any streak multiplier.
func RoundAward(q domain.Question, answer int) int {
	if !q.IsCorrect(answer) {
		return 0
	}
	award := BasePoints
	if q.Provenance == domain.ProvenanceAI {
		award += AIBonus
	}
	return award
}

func boost(n int) int { return n * 3 / 2 }

// RoundOutcome is one participant's result for a round.
type RoundOutcome struct {
	UserID   string
	Answer   int
	Answered bool
	Correct  bool
	// Award is what the round was worth after the streak multiplier.
	Award     int
	Record    domain.ProgressRecord
	Roles     []string
	Challenge *ChallengeReward
}

// Scorer applies round results to the ledger and the daily challenge.
type Scorer struct {
	ledger     *Ledger
	challenges *ChallengeTracker
	logger     *zap.Logger
	// compound rescales the whole total instead of only the round award.
	compound bool
}

func NewScorer(ledger *Ledger, challenges *ChallengeTracker, compound bool, logger *zap.Logger) *Scorer {
	return &Scorer{ledger: ledger, challenges: challenges, compound: compound, logger: logger}
}

// ScoreRound scores every participant in order. Outcomes for participants
// handled before a persistence error are returned together with it.
func (s *Scorer) ScoreRound(ctx context.Context, q domain.Question, category string, participants []string, answers map[string]int) ([]RoundOutcome, error) {
	outcomes := make([]RoundOutcome, 0, len(participants))
	for _, id := range participants {
		answer, answered := answers[id]
		out := RoundOutcome{UserID: id, Answer: answer, Answered: answered, Correct: answered && q.IsCorrect(answer)}

		if out.Correct {
			base := RoundAward(q, answer)
			day := s.ledger.Today()
			rec, err := s.ledger.Update(ctx, id, func(rec *domain.ProgressRecord) {
				TouchStreak(rec, day)
				award := base
				if s.compound {
					rec.Points += base
				}
				if rec.Streak > StreakThreshold {
					award = boost(base)
					if s.compound {
						rec.Points = boost(rec.Points)
					}
				}
				if !s.compound {
					rec.Points += award
				}
				rec.CategoryPoints[category] += base
				out.Award = award
			})
			if err != nil {
				return outcomes, err
			}
			out.Record = rec
		}

		if answered && s.challenges != nil {
			reward, err := s.challenges.RecordAnswer(ctx, id, category, out.Correct)
			if err != nil {
				return outcomes, err
			}
			out.Challenge = reward
		}

		if out.Correct || out.Challenge != nil {
			roles, err := s.ledger.ReconcileRoles(ctx, id)
			if err != nil {
				return outcomes, err
			}
			out.Roles = roles
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// AwardBonus credits the winner bonus to the total and the session category.
func (s *Scorer) AwardBonus(ctx context.Context, userID, category string, bonus int) (domain.ProgressRecord, error) {
	rec, err := s.ledger.ApplyDelta(ctx, userID, bonus, category, bonus)
	if err != nil {
		return domain.ProgressRecord{}, err
	}
	if _, err := s.ledger.ReconcileRoles(ctx, userID); err != nil {
		return rec, err
	}
	return rec, nil
}

// DuelWinner returns the participant with strictly more correct answers, or
// ok=false on a tie.
func DuelWinner(a, b domain.Participant) (winner domain.Participant, ok bool) {
	switch {
	case a.Score > b.Score:
		return a, true
	case b.Score > a.Score:
		return b, true
	}
	return domain.Participant{}, false
}

// GroupWinners returns every participant at the maximum score, in input order.
func GroupWinners(ps []domain.Participant) ([]domain.Participant, int) {
	if len(ps) == 0 {
		return nil, 0
	}
	best := ps[0].Score
	for _, p := range ps[1:] {
		if p.Score > best {
			best = p.Score
		}
	}
	var winners []domain.Participant
	for _, p := range ps {
		if p.Score == best {
			winners = append(winners, p)
		}
	}
	return winners, best
}
