package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"arbor/api/internal/rbac"
	"arbor/api/internal/store"
	"arbor/api/internal/util"
	"arbor/api/internal/voting"
)

// canManageElections: admins always, plus the sitting HEADs of the domain.
func (s *Service) canManageElections(ctx context.Context, session Session, domainID string) (bool, error) {
	if s.Can(session.Role, rbac.ActionManageElections) {
		return true, nil
	}
	memberships, err := s.store.ListUserExpertRoles(ctx, session.UserID)
	if err != nil {
		return false, err
	}
	for _, m := range memberships {
		if m.DomainID == domainID && m.Role == voting.RoleHead {
			return true, nil
		}
	}
	return false, nil
}

// OpenElectionRound opens a round for a domain wing, running for the
// configured term. The partial unique index rejects a second open round
// for the same wing.
func (s *Service) OpenElectionRound(ctx context.Context, session Session, domainID, wing string) (store.ElectionRound, error) {
	ok, err := s.canManageElections(ctx, session, domainID)
	if err != nil {
		return store.ElectionRound{}, err
	}
	if !ok {
		return store.ElectionRound{}, apiError(http.StatusForbidden, "FORBIDDEN", "only admins or domain heads can open election rounds", nil)
	}
	wing = strings.ToUpper(wing)
	if !voting.ValidWing(wing) {
		return store.ElectionRound{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "wing must be LEFT or RIGHT", nil)
	}
	if _, err := s.store.GetDomain(ctx, domainID); err != nil {
		return store.ElectionRound{}, err
	}

	round := store.ElectionRound{
		ID:       util.NewID("rnd"),
		DomainID: domainID,
		Wing:     wing,
		Status:   store.RoundActive,
		EndDate:  time.Now().Add(s.cfg.ElectionTerm),
	}
	if err := s.store.CreateElectionRound(ctx, round); err != nil {
		return store.ElectionRound{}, apiError(http.StatusConflict, "ROUND_OPEN", "an election round is already open for this wing", nil)
	}
	return s.store.GetElectionRound(ctx, round.ID)
}

func (s *Service) GetElectionRound(ctx context.Context, roundID string) (store.ElectionRound, error) {
	return s.store.GetElectionRound(ctx, roundID)
}

func (s *Service) ListDomainRounds(ctx context.Context, domainID string) ([]store.ElectionRound, error) {
	if _, err := s.store.GetDomain(ctx, domainID); err != nil {
		return nil, err
	}
	return s.store.ListDomainRounds(ctx, domainID)
}

// AdvanceRound steps a round through its phases (ACTIVE ->
// MEMBERS_ACTIVE -> HEAD_ACTIVE). Close goes through CloseElectionRound.
func (s *Service) AdvanceRound(ctx context.Context, session Session, roundID string) (store.ElectionRound, error) {
	round, err := s.store.GetElectionRound(ctx, roundID)
	if err != nil {
		return store.ElectionRound{}, err
	}
	ok, err := s.canManageElections(ctx, session, round.DomainID)
	if err != nil {
		return store.ElectionRound{}, err
	}
	if !ok {
		return store.ElectionRound{}, apiError(http.StatusForbidden, "FORBIDDEN", "only admins or domain heads can advance rounds", nil)
	}

	var next string
	switch round.Status {
	case store.RoundActive:
		next = store.RoundMembersActive
	case store.RoundMembersActive:
		next = store.RoundHeadActive
	default:
		return store.ElectionRound{}, apiError(http.StatusConflict, "NOT_ADVANCEABLE", "round has no next phase", map[string]any{"status": round.Status})
	}
	if moved, err := s.store.SetRoundStatus(ctx, roundID, round.Status, next); err != nil {
		return store.ElectionRound{}, err
	} else if !moved {
		return store.ElectionRound{}, apiError(http.StatusConflict, "NOT_ADVANCEABLE", "round changed state concurrently", nil)
	}
	return s.store.GetElectionRound(ctx, roundID)
}

type CandidacyInput struct {
	RoundID string `json:"roundId"`
	Role    string `json:"role"`
}

// SubmitCandidacy enters the calling user as a candidate in an open round.
func (s *Service) SubmitCandidacy(ctx context.Context, session Session, in CandidacyInput) (store.Candidacy, error) {
	round, err := s.store.GetElectionRound(ctx, in.RoundID)
	if err != nil {
		return store.Candidacy{}, err
	}
	if round.Status == store.RoundClosed {
		return store.Candidacy{}, apiError(http.StatusConflict, "ROUND_CLOSED", "round is closed", nil)
	}
	role := strings.ToUpper(strings.TrimSpace(in.Role))
	if role != voting.RoleHead && role != voting.RoleExpert {
		return store.Candidacy{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "role must be HEAD or EXPERT", nil)
	}
	// Phased rounds restrict which seat is being contested.
	if round.Status == store.RoundHeadActive && role != voting.RoleHead {
		return store.Candidacy{}, apiError(http.StatusConflict, "WRONG_PHASE", "only HEAD candidacies are open in this phase", nil)
	}
	if round.Status == store.RoundMembersActive && role != voting.RoleExpert {
		return store.Candidacy{}, apiError(http.StatusConflict, "WRONG_PHASE", "only EXPERT candidacies are open in this phase", nil)
	}

	candidacy := store.Candidacy{
		ID:              util.NewID("cand"),
		DomainID:        round.DomainID,
		CandidateUserID: session.UserID,
		Role:            role,
		Wing:            round.Wing,
		RoundID:         round.ID,
	}
	if err := s.store.CreateCandidacy(ctx, candidacy); err != nil {
		return store.Candidacy{}, fmt.Errorf("submit candidacy: %w", err)
	}
	return s.store.GetCandidacy(ctx, candidacy.ID)
}

func (s *Service) GetCandidacy(ctx context.Context, candidacyID string) (store.Candidacy, error) {
	return s.store.GetCandidacy(ctx, candidacyID)
}

func (s *Service) ListRoundCandidacies(ctx context.Context, roundID string) ([]store.Candidacy, error) {
	if _, err := s.store.GetElectionRound(ctx, roundID); err != nil {
		return nil, err
	}
	return s.store.ListRoundCandidacies(ctx, roundID)
}

func (s *Service) ListCandidacyVotes(ctx context.Context, candidacyID string) ([]store.ScoreVote, error) {
	if _, err := s.store.GetCandidacy(ctx, candidacyID); err != nil {
		return nil, err
	}
	return s.store.ListCandidacyVotes(ctx, candidacyID)
}

// VoteCandidacy casts a wing-scoped weighted score. The running total is
// maintained incrementally: a re-vote applies only the delta against the
// voter's previously stored weighted score.
func (s *Service) VoteCandidacy(ctx context.Context, session Session, candidacyID string, score int) (store.Candidacy, error) {
	if !voting.ValidScore(score) {
		return store.Candidacy{}, apiError(http.StatusUnprocessableEntity, "VALIDATION",
			fmt.Sprintf("score must be between %d and %d", voting.MinScore, voting.MaxScore), nil)
	}
	candidacy, err := s.store.GetCandidacy(ctx, candidacyID)
	if err != nil {
		return store.Candidacy{}, err
	}
	if candidacy.Status != store.CandidacyPending {
		return store.Candidacy{}, apiError(http.StatusConflict, "NOT_VOTABLE", "candidacy already decided", map[string]any{"status": candidacy.Status})
	}
	round, err := s.store.GetElectionRound(ctx, candidacy.RoundID)
	if err != nil {
		return store.Candidacy{}, err
	}
	if round.Status == store.RoundClosed {
		return store.Candidacy{}, apiError(http.StatusConflict, "ROUND_CLOSED", "round is closed", nil)
	}

	weight, err := s.UserVotingWeight(ctx, session.UserID, session.Role, candidacy.DomainID, voting.ModeCandidacy, candidacy.Wing)
	if err != nil {
		return store.Candidacy{}, err
	}
	if weight <= 0 {
		return store.Candidacy{}, apiError(http.StatusForbidden, "NO_VOTING_RIGHTS", "no voting rights in this wing", nil)
	}

	// The delta against any prior ballot is computed inside the store
	// transaction, behind the candidacy row lock.
	ok, err := s.store.IncrementCandidacyScoreTx(ctx, store.ScoreVote{
		SubjectID:     candidacyID,
		VoterID:       session.UserID,
		DomainID:      candidacy.DomainID,
		Score:         score,
		Weight:        weight,
		WeightedScore: voting.WeightedScore(score, weight),
	})
	if err != nil {
		return store.Candidacy{}, err
	}
	if !ok {
		return store.Candidacy{}, apiError(http.StatusConflict, "NOT_VOTABLE", "candidacy already decided", nil)
	}
	return s.store.GetCandidacy(ctx, candidacyID)
}

// CloseElectionRound ends a round and settles every pending candidacy.
func (s *Service) CloseElectionRound(ctx context.Context, session Session, roundID string) ([]store.Candidacy, error) {
	round, err := s.store.GetElectionRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	ok, err := s.canManageElections(ctx, session, round.DomainID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apiError(http.StatusForbidden, "FORBIDDEN", "only admins or domain heads can close rounds", nil)
	}

	closed, err := s.store.CloseRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if !closed {
		return nil, apiError(http.StatusConflict, "ROUND_CLOSED", "round is already closed", nil)
	}
	if err := s.finalizeRound(ctx, roundID); err != nil {
		return nil, err
	}
	return s.store.ListRoundCandidacies(ctx, roundID)
}

// finalizeRound decides every pending candidacy in a closed round through
// the shared quorum; winners are seated immediately.
func (s *Service) finalizeRound(ctx context.Context, roundID string) error {
	candidacies, err := s.store.ListRoundCandidacies(ctx, roundID)
	if err != nil {
		return err
	}
	for _, candidacy := range candidacies {
		if candidacy.Status != store.CandidacyPending {
			continue
		}
		votes, err := s.store.ListCandidacyVotes(ctx, candidacy.ID)
		if err != nil {
			return err
		}
		result, err := s.CheckScoreApproval(ctx, candidacy.DomainID, votes, ApprovalOptions{
			Mode: voting.ModeCandidacy,
			Wing: candidacy.Wing,
		})
		if err != nil {
			return err
		}
		if result.Approved() {
			if _, err := s.store.SetCandidacyStatus(ctx, candidacy.ID, store.CandidacyApproved); err != nil {
				return err
			}
			if err := s.store.UpsertDomainExpert(ctx, store.DomainExpert{
				UserID:   candidacy.CandidateUserID,
				DomainID: candidacy.DomainID,
				Role:     candidacy.Role,
				Wing:     candidacy.Wing,
			}); err != nil {
				return err
			}
			continue
		}
		if _, err := s.store.SetCandidacyStatus(ctx, candidacy.ID, store.CandidacyRejected); err != nil {
			return err
		}
	}
	return nil
}

// CloseOverdueRounds is the sweep hook: rounds past their end date close
// and settle without anyone calling the endpoint.
func (s *Service) CloseOverdueRounds(ctx context.Context) ([]string, error) {
	ids, err := s.store.ExpireRounds(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := s.finalizeRound(ctx, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
