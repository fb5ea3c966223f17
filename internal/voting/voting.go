// Package voting holds the pure scoring primitives shared by every quorum
// in the system: posts, courses, chapters, prerequisites and candidacies
// all decide through the same arithmetic.
package voting

import "math"

// Wing is one of the two parallel governance tracks within a domain.
type Wing string

const (
	WingLeft  Wing = "LEFT"
	WingRight Wing = "RIGHT"
)

// ValidWing reports whether s names a wing.
func ValidWing(s string) bool {
	return Wing(s) == WingLeft || Wing(s) == WingRight
}

// Expert roles within a domain wing. A HEAD carries twice the voting
// multiplier of a plain EXPERT.
const (
	RoleHead   = "HEAD"
	RoleExpert = "EXPERT"
)

// RoleMultiplier returns the internal voting multiplier for a domain role.
func RoleMultiplier(role string) float64 {
	if role == RoleHead {
		return 2
	}
	return 1
}

// Mode selects how the weight resolver scopes a lookup.
type Mode int

const (
	// ModeDirect is content voting: the best share held by any of the
	// voter's home wings in either wing of the target domain.
	ModeDirect Mode = iota
	// ModeCandidacy is election voting: strictly scoped to one wing.
	ModeCandidacy
)

// MinScore and MaxScore bound the raw UI score.
const (
	MinScore = -2
	MaxScore = 2
)

// ValidScore reports whether a raw score is an allowed integer.
func ValidScore(score int) bool {
	return score >= MinScore && score <= MaxScore
}

// ScaledMultiplier converts a fractional voting weight into the integer
// multiplier applied to raw scores before storage.
func ScaledMultiplier(weight float64) int {
	return int(math.Round(weight * 2))
}

// WeightedScore is the stored form of a cast vote. The double rounding is
// deliberate: the multiplier is fixed to an integer first, so a raw score
// of 0 always stores 0 and sign is always preserved.
func WeightedScore(score int, weight float64) int {
	return int(math.Round(float64(score) * float64(ScaledMultiplier(weight))))
}

// MajorityThreshold is the simple-majority point count for n voters.
func MajorityThreshold(n int) int {
	if n <= 0 {
		return 1
	}
	return n/2 + 1
}

// Outcome of a quorum check.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeApproved
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "APPROVED"
	case OutcomeRejected:
		return "REJECTED"
	default:
		return "PENDING"
	}
}

// Result carries the quorum arithmetic behind a decision.
type Result struct {
	Outcome             Outcome
	TotalScore          float64
	TotalRights         float64
	ParticipationRights float64
}

func (r Result) Approved() bool { return r.Outcome == OutcomeApproved }
func (r Result) Rejected() bool { return r.Outcome == OutcomeRejected }

// Decide applies the shared threshold rule. Approval and rejection both
// require participation of at least half the weighted electorate; ties on
// the score threshold count toward approval, never rejection.
func Decide(totalScore, totalRights, participationRights float64, noRejection bool) Result {
	result := Result{
		Outcome:             OutcomePending,
		TotalScore:          totalScore,
		TotalRights:         totalRights,
		ParticipationRights: participationRights,
	}
	if totalRights <= 0 {
		return result
	}
	threshold := totalRights / 2
	if participationRights < threshold {
		return result
	}
	if totalScore >= threshold {
		result.Outcome = OutcomeApproved
		return result
	}
	if !noRejection && totalScore <= -threshold {
		result.Outcome = OutcomeRejected
	}
	return result
}
