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

// TransferInput covers both proposal kinds; DurationYears only applies to
// investments (<= 0 means open-ended).
type TransferInput struct {
	ProposerDomainID string  `json:"proposerDomainId"`
	ProposerWing     string  `json:"proposerWing"`
	TargetDomainID   string  `json:"targetDomainId"`
	TargetWing       string  `json:"targetWing"`
	PctToTarget      float64 `json:"pctToTarget"`
	PctToProposer    float64 `json:"pctToProposer"`
	DurationYears    int     `json:"durationYears"`
}

// wingSide identifies one side of a bilateral transfer.
type wingSide struct {
	DomainID string
	Wing     string
}

func (s *Service) validateTransfer(ctx context.Context, session Session, in *TransferInput) error {
	in.ProposerWing = strings.ToUpper(in.ProposerWing)
	in.TargetWing = strings.ToUpper(in.TargetWing)
	if !voting.ValidWing(in.ProposerWing) || !voting.ValidWing(in.TargetWing) {
		return apiError(http.StatusUnprocessableEntity, "VALIDATION", "wings must be LEFT or RIGHT", nil)
	}
	if in.ProposerDomainID == in.TargetDomainID && in.ProposerWing == in.TargetWing {
		return apiError(http.StatusUnprocessableEntity, "VALIDATION", "a wing cannot trade with itself", nil)
	}
	if in.PctToTarget <= 0 || in.PctToTarget > 100 || in.PctToProposer <= 0 || in.PctToProposer > 100 {
		return apiError(http.StatusUnprocessableEntity, "VALIDATION", "percentages must be in (0, 100]", nil)
	}
	for _, id := range []string{in.ProposerDomainID, in.TargetDomainID} {
		if _, err := s.store.GetDomain(ctx, id); err != nil {
			if store.IsNotFound(err) {
				return apiError(http.StatusUnprocessableEntity, "VALIDATION", "domain does not exist", map[string]any{"domainId": id})
			}
			return err
		}
	}

	// Proposing requires standing in the proposer wing; there is no admin
	// bypass for wing-scoped governance.
	if !rbac.Lookup(rbac.ActionProposeTransfer).RequiresWeight {
		return nil
	}
	memberships, err := s.store.ListUserExpertRoles(ctx, session.UserID)
	if err != nil {
		return err
	}
	for _, m := range memberships {
		if m.DomainID == in.ProposerDomainID && m.Wing == in.ProposerWing {
			return nil
		}
	}
	return apiError(http.StatusForbidden, "NO_VOTING_RIGHTS", "proposer must be an expert of the proposing wing", nil)
}

// checkTransferAvailability verifies both wings still hold what they are
// about to cede. cededByProposer comes out of the proposer wing's self
// share, cededByTarget out of the target's.
func (s *Service) checkTransferAvailability(ctx context.Context, proposer, target wingSide, cededByProposer, cededByTarget float64) error {
	available, err := s.AvailableVotingPower(ctx, proposer.DomainID, proposer.Wing)
	if err != nil {
		return err
	}
	if available < cededByProposer {
		return apiError(http.StatusConflict, "INSUFFICIENT_SHARES", "proposer wing does not hold enough voting power",
			map[string]any{"available": available, "required": cededByProposer})
	}
	available, err = s.AvailableVotingPower(ctx, target.DomainID, target.Wing)
	if err != nil {
		return err
	}
	if available < cededByTarget {
		return apiError(http.StatusConflict, "INSUFFICIENT_SHARES", "target wing does not hold enough voting power",
			map[string]any{"available": available, "required": cededByTarget})
	}
	return nil
}

func (s *Service) ProposeExchange(ctx context.Context, session Session, in TransferInput) (store.ExchangeProposal, error) {
	if err := s.validateTransfer(ctx, session, &in); err != nil {
		return store.ExchangeProposal{}, err
	}
	proposer := wingSide{in.ProposerDomainID, in.ProposerWing}
	target := wingSide{in.TargetDomainID, in.TargetWing}
	if err := s.checkTransferAvailability(ctx, proposer, target, in.PctToTarget, in.PctToProposer); err != nil {
		return store.ExchangeProposal{}, err
	}

	proposal := store.ExchangeProposal{
		ID:                  util.NewID("exch"),
		ProposerDomainID:    in.ProposerDomainID,
		ProposerWing:        in.ProposerWing,
		TargetDomainID:      in.TargetDomainID,
		TargetWing:          in.TargetWing,
		PctProposerToTarget: in.PctToTarget,
		PctTargetToProposer: in.PctToProposer,
	}
	if err := s.store.CreateExchangeProposal(ctx, proposal); err != nil {
		return store.ExchangeProposal{}, fmt.Errorf("propose exchange: %w", err)
	}
	return s.store.GetExchangeProposal(ctx, proposal.ID)
}

func (s *Service) ProposeInvestment(ctx context.Context, session Session, in TransferInput) (store.Investment, error) {
	if err := s.validateTransfer(ctx, session, &in); err != nil {
		return store.Investment{}, err
	}
	if in.DurationYears < 0 {
		return store.Investment{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "duration must be zero or positive", nil)
	}
	proposer := wingSide{in.ProposerDomainID, in.ProposerWing}
	target := wingSide{in.TargetDomainID, in.TargetWing}
	// The target cedes the invested stake; the proposer cedes the return.
	if err := s.checkTransferAvailability(ctx, proposer, target, in.PctToProposer, in.PctToTarget); err != nil {
		return store.Investment{}, err
	}

	investment := store.Investment{
		ID:               util.NewID("inv"),
		ProposerDomainID: in.ProposerDomainID,
		ProposerWing:     in.ProposerWing,
		TargetDomainID:   in.TargetDomainID,
		TargetWing:       in.TargetWing,
		PctInvested:      in.PctToTarget,
		PctReturn:        in.PctToProposer,
		DurationYears:    in.DurationYears,
	}
	if err := s.store.CreateInvestment(ctx, investment); err != nil {
		return store.Investment{}, fmt.Errorf("propose investment: %w", err)
	}
	return s.store.GetInvestment(ctx, investment.ID)
}

func (s *Service) GetExchangeProposal(ctx context.Context, proposalID string) (store.ExchangeProposal, error) {
	return s.store.GetExchangeProposal(ctx, proposalID)
}

func (s *Service) GetInvestment(ctx context.Context, investmentID string) (store.Investment, error) {
	return s.store.GetInvestment(ctx, investmentID)
}

// sideTally is the approval arithmetic for one wing of a transfer.
type sideTally struct {
	Side       wingSide
	Experts    int
	Approvals  int
	Rejections int
	Threshold  int
}

func (t sideTally) approved() bool { return t.Approvals >= t.Threshold }
func (t sideTally) rejected() bool { return t.Rejections >= t.Threshold }

// tallyTransferSide counts one expert one point within the wing. A wing
// with no experts at all is decided by a single admin ballot.
func (s *Service) tallyTransferSide(ctx context.Context, side wingSide, votes []store.TransferVote) (sideTally, error) {
	experts, err := s.store.ListWingExperts(ctx, side.DomainID, side.Wing)
	if err != nil {
		return sideTally{}, err
	}
	eligible := make(map[string]bool, len(experts))
	for _, e := range experts {
		eligible[e.UserID] = true
	}

	tally := sideTally{
		Side:      side,
		Experts:   len(experts),
		Threshold: voting.MajorityThreshold(len(experts)),
	}
	for _, v := range votes {
		if v.DomainID != side.DomainID {
			continue
		}
		// A vote counts for this wing only from its own electorate; when
		// the wing is empty, any admin ballot stands in for it.
		if !eligible[v.VoterID] && tally.Experts > 0 {
			continue
		}
		if v.Approve {
			tally.Approvals++
		} else {
			tally.Rejections++
		}
	}
	return tally, nil
}

// canVoteTransferSide reports whether the session may cast a ballot for
// the given side.
func (s *Service) canVoteTransferSide(ctx context.Context, session Session, side wingSide) (bool, error) {
	experts, err := s.store.ListWingExperts(ctx, side.DomainID, side.Wing)
	if err != nil {
		return false, err
	}
	if len(experts) == 0 {
		return rbac.Normalize(session.Role) == rbac.RoleAdmin, nil
	}
	for _, e := range experts {
		if e.UserID == session.UserID {
			return true, nil
		}
	}
	return false, nil
}

// TransferDecision reports what a ballot did to a proposal.
type TransferDecision struct {
	Status   string
	Proposer sideTally
	Target   sideTally
}

// VoteExchange records an approve/reject ballot for one side of a pending
// exchange. Rejection by either wing kills it; approval by both re-checks
// availability and then applies the ledger swap atomically.
func (s *Service) VoteExchange(ctx context.Context, session Session, proposalID, domainID string, approve bool) (TransferDecision, error) {
	proposal, err := s.store.GetExchangeProposal(ctx, proposalID)
	if err != nil {
		return TransferDecision{}, err
	}
	if proposal.Status != store.ProposalPending {
		return TransferDecision{}, apiError(http.StatusConflict, "NOT_VOTABLE", "proposal already settled", map[string]any{"status": proposal.Status})
	}

	proposer := wingSide{proposal.ProposerDomainID, proposal.ProposerWing}
	target := wingSide{proposal.TargetDomainID, proposal.TargetWing}
	side, err := s.resolveVoteSide(ctx, session, domainID, proposer, target)
	if err != nil {
		return TransferDecision{}, err
	}

	if err := s.store.UpsertExchangeVote(ctx, store.TransferVote{
		SubjectID: proposalID,
		VoterID:   session.UserID,
		DomainID:  side.DomainID,
		Approve:   approve,
	}); err != nil {
		return TransferDecision{}, err
	}

	votes, err := s.store.ListExchangeVotes(ctx, proposalID)
	if err != nil {
		return TransferDecision{}, err
	}
	proposerTally, err := s.tallyTransferSide(ctx, proposer, votes)
	if err != nil {
		return TransferDecision{}, err
	}
	targetTally, err := s.tallyTransferSide(ctx, target, votes)
	if err != nil {
		return TransferDecision{}, err
	}

	switch {
	case proposerTally.rejected() || targetTally.rejected():
		if _, err := s.store.RejectExchangeProposal(ctx, proposalID); err != nil {
			return TransferDecision{}, err
		}
	case proposerTally.approved() && targetTally.approved():
		// Share positions may have moved since proposal time.
		if err := s.checkTransferAvailability(ctx, proposer, target,
			proposal.PctProposerToTarget, proposal.PctTargetToProposer); err != nil {
			return TransferDecision{}, err
		}
		if _, err := s.store.ExecuteExchangeTx(ctx, proposal); err != nil {
			return TransferDecision{}, err
		}
	}

	proposal, err = s.store.GetExchangeProposal(ctx, proposalID)
	if err != nil {
		return TransferDecision{}, err
	}
	return TransferDecision{Status: proposal.Status, Proposer: proposerTally, Target: targetTally}, nil
}

// VoteInvestment mirrors VoteExchange; bilateral approval activates the
// investment and starts its clock.
func (s *Service) VoteInvestment(ctx context.Context, session Session, investmentID, domainID string, approve bool) (TransferDecision, error) {
	investment, err := s.store.GetInvestment(ctx, investmentID)
	if err != nil {
		return TransferDecision{}, err
	}
	if investment.Status != store.ProposalPending {
		return TransferDecision{}, apiError(http.StatusConflict, "NOT_VOTABLE", "investment already settled", map[string]any{"status": investment.Status})
	}

	proposer := wingSide{investment.ProposerDomainID, investment.ProposerWing}
	target := wingSide{investment.TargetDomainID, investment.TargetWing}
	side, err := s.resolveVoteSide(ctx, session, domainID, proposer, target)
	if err != nil {
		return TransferDecision{}, err
	}

	if err := s.store.UpsertInvestmentVote(ctx, store.TransferVote{
		SubjectID: investmentID,
		VoterID:   session.UserID,
		DomainID:  side.DomainID,
		Approve:   approve,
	}); err != nil {
		return TransferDecision{}, err
	}

	votes, err := s.store.ListInvestmentVotes(ctx, investmentID)
	if err != nil {
		return TransferDecision{}, err
	}
	proposerTally, err := s.tallyTransferSide(ctx, proposer, votes)
	if err != nil {
		return TransferDecision{}, err
	}
	targetTally, err := s.tallyTransferSide(ctx, target, votes)
	if err != nil {
		return TransferDecision{}, err
	}

	switch {
	case proposerTally.rejected() || targetTally.rejected():
		if _, err := s.store.RejectInvestment(ctx, investmentID); err != nil {
			return TransferDecision{}, err
		}
	case proposerTally.approved() && targetTally.approved():
		if err := s.checkTransferAvailability(ctx, proposer, target,
			investment.PctReturn, investment.PctInvested); err != nil {
			return TransferDecision{}, err
		}
		if _, err := s.store.ActivateInvestment(ctx, investmentID, investment.DurationYears); err != nil {
			return TransferDecision{}, err
		}
	}

	investment, err = s.store.GetInvestment(ctx, investmentID)
	if err != nil {
		return TransferDecision{}, err
	}
	return TransferDecision{Status: investment.Status, Proposer: proposerTally, Target: targetTally}, nil
}

func (s *Service) resolveVoteSide(ctx context.Context, session Session, domainID string, proposer, target wingSide) (wingSide, error) {
	var side wingSide
	switch domainID {
	case proposer.DomainID:
		side = proposer
	case target.DomainID:
		side = target
	default:
		return wingSide{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "domain is not a party to this proposal", nil)
	}
	ok, err := s.canVoteTransferSide(ctx, session, side)
	if err != nil {
		return wingSide{}, err
	}
	if !ok {
		return wingSide{}, apiError(http.StatusForbidden, "NO_VOTING_RIGHTS", "not an expert of the affected wing", nil)
	}
	return side, nil
}

// ForceTerminateInvestment lets an admin end an ACTIVE investment
// immediately; the overlay reverts on the next read.
func (s *Service) ForceTerminateInvestment(ctx context.Context, session Session, investmentID string) (store.Investment, error) {
	if !s.Can(session.Role, rbac.ActionForceTerminate) {
		return store.Investment{}, apiError(http.StatusForbidden, "FORBIDDEN", "only admins can terminate investments", nil)
	}
	if _, err := s.store.GetInvestment(ctx, investmentID); err != nil {
		return store.Investment{}, err
	}
	ok, err := s.store.TerminateInvestment(ctx, investmentID)
	if err != nil {
		return store.Investment{}, err
	}
	if !ok {
		return store.Investment{}, apiError(http.StatusConflict, "NOT_ACTIVE", "only active investments can be terminated", nil)
	}
	return s.store.GetInvestment(ctx, investmentID)
}

// SettleExpiredInvestments flips ACTIVE investments past their end date to
// EXPIRED. Called by the background sweeper and the admin endpoint.
func (s *Service) SettleExpiredInvestments(ctx context.Context) ([]string, error) {
	return s.store.ExpireInvestments(ctx, time.Now())
}

// RejectExpiredProposals force-rejects pending proposals older than the
// configured TTL.
func (s *Service) RejectExpiredProposals(ctx context.Context) ([]store.SweptProposal, error) {
	cutoff := time.Now().Add(-s.cfg.ProposalTTL)
	return s.store.RejectStaleProposals(ctx, cutoff)
}

// RunSweep is the admin-triggered combined sweep.
func (s *Service) RunSweep(ctx context.Context, session Session) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionSweep) {
		return nil, apiError(http.StatusForbidden, "FORBIDDEN", "only admins can run the sweep", nil)
	}
	expired, err := s.SettleExpiredInvestments(ctx)
	if err != nil {
		return nil, err
	}
	swept, err := s.RejectExpiredProposals(ctx)
	if err != nil {
		return nil, err
	}
	closed, err := s.CloseOverdueRounds(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"expiredInvestments": expired,
		"rejectedProposals":  swept,
		"closedRounds":       closed,
	}, nil
}
