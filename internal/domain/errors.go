package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a quiz session is not registered.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrInvalidTransition is returned when a session is moved to a state it cannot reach.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrNoQuestion means no unique question could be obtained for a round.
	ErrNoQuestion = errors.New("no question available")
	// ErrProviderExhausted means every configured model failed to produce a question.
	ErrProviderExhausted = errors.New("question provider exhausted")
	// ErrInvalidQuestion indicates a question record failed validation.
	ErrInvalidQuestion = errors.New("invalid question")

	// ErrDocumentNotFound is returned by document stores for missing keys.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrAwaitTimeout is returned when no matching message arrived in time.
	ErrAwaitTimeout = errors.New("timed out waiting for message")

	// ErrInvalidCategory indicates an unknown quiz category.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrInvalidDifficulty indicates an unknown difficulty.
	ErrInvalidDifficulty = errors.New("invalid difficulty")
	// ErrInvalidInvitees indicates a wrong number of invitees for the mode.
	ErrInvalidInvitees = errors.New("invalid invitees")
	// ErrSelfChallenge is returned when the initiator invites themselves.
	ErrSelfChallenge = errors.New("cannot challenge yourself")
	// ErrInviteeNotEligible is returned for unknown or bot invitees.
	ErrInviteeNotEligible = errors.New("invitee is not an eligible member")

	// ErrScopeNotFound is returned for unknown channels or threads.
	ErrScopeNotFound = errors.New("scope not found")
	// ErrScopeClosed is returned when posting into a locked or destroyed scope.
	ErrScopeClosed = errors.New("scope is closed")
	// ErrMemberNotFound is returned for unknown user identities.
	ErrMemberNotFound = errors.New("member not found")
)
