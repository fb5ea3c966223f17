package app

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"arbor/api/internal/rbac"
	"arbor/api/internal/search"
	"arbor/api/internal/store"
	"arbor/api/internal/util"
	"arbor/api/internal/voting"
)

type DomainInput struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	ParentID    string `json:"parentId"`
	Description string `json:"description"`
}

// DomainNode is one entry in the nested domain tree.
type DomainNode struct {
	Domain   store.Domain
	Children []*DomainNode
}

func (s *Service) CreateDomain(ctx context.Context, session Session, in DomainInput) (store.Domain, error) {
	if !s.Can(session.Role, rbac.ActionCreateDomain) {
		return store.Domain{}, apiError(http.StatusForbidden, "FORBIDDEN", "only admins can create domains", nil)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return store.Domain{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "domain name is required", nil)
	}
	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		slug = util.Slugify(name)
	}

	domain := store.Domain{
		ID:          util.NewID("dom"),
		Name:        name,
		Slug:        slug,
		Description: strings.TrimSpace(in.Description),
	}
	if in.ParentID != "" {
		parent, err := s.store.GetDomain(ctx, in.ParentID)
		if err != nil {
			if store.IsNotFound(err) {
				return store.Domain{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "parent domain does not exist", nil)
			}
			return store.Domain{}, err
		}
		domain.ParentID = &parent.ID
	}

	if err := s.store.CreateDomain(ctx, domain); err != nil {
		return store.Domain{}, fmt.Errorf("create domain: %w", err)
	}
	if s.search != nil {
		s.search.IndexDomain(search.DomainRecord{
			ID:          domain.ID,
			Name:        domain.Name,
			Description: domain.Description,
			ParentID:    in.ParentID,
		})
	}
	return s.store.GetDomain(ctx, domain.ID)
}

func (s *Service) GetDomain(ctx context.Context, domainID string) (store.Domain, error) {
	return s.store.GetDomain(ctx, domainID)
}

// GetDomainTree returns all domains arranged as a forest. Orphans whose
// parent row is missing surface as roots rather than vanishing.
func (s *Service) GetDomainTree(ctx context.Context) ([]*DomainNode, error) {
	domains, err := s.store.ListDomains(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*DomainNode, len(domains))
	for _, d := range domains {
		nodes[d.ID] = &DomainNode{Domain: d, Children: []*DomainNode{}}
	}

	roots := make([]*DomainNode, 0)
	for _, d := range domains {
		node := nodes[d.ID]
		if d.ParentID != nil {
			if parent, ok := nodes[*d.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots, nil
}

func (s *Service) DeleteDomain(ctx context.Context, session Session, domainID string) error {
	if !s.Can(session.Role, rbac.ActionDeleteDomain) {
		return apiError(http.StatusForbidden, "FORBIDDEN", "only admins can delete domains", nil)
	}
	if _, err := s.store.GetDomain(ctx, domainID); err != nil {
		return err
	}

	children, err := s.store.DomainChildCount(ctx, domainID)
	if err != nil {
		return err
	}
	if children > 0 {
		return apiError(http.StatusConflict, "DOMAIN_NOT_EMPTY", "domain has child domains", map[string]any{"children": children})
	}
	content, err := s.store.DomainContentCount(ctx, domainID)
	if err != nil {
		return err
	}
	if content > 0 {
		return apiError(http.StatusConflict, "DOMAIN_NOT_EMPTY", "domain still governs content", map[string]any{"content": content})
	}

	if err := s.store.DeleteDomain(ctx, domainID); err != nil {
		return fmt.Errorf("delete domain: %w", err)
	}
	if s.search != nil {
		s.search.DeleteDomain(domainID)
	}
	return nil
}

type ExpertInput struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Wing   string `json:"wing"`
}

func (s *Service) UpsertExpert(ctx context.Context, session Session, domainID string, in ExpertInput) error {
	if !s.Can(session.Role, rbac.ActionManageExperts) {
		return apiError(http.StatusForbidden, "FORBIDDEN", "only admins can manage experts", nil)
	}
	role := strings.ToUpper(strings.TrimSpace(in.Role))
	if role != voting.RoleHead && role != voting.RoleExpert {
		return apiError(http.StatusUnprocessableEntity, "VALIDATION", "role must be HEAD or EXPERT", nil)
	}
	wing := strings.ToUpper(strings.TrimSpace(in.Wing))
	if !voting.ValidWing(wing) {
		return apiError(http.StatusUnprocessableEntity, "VALIDATION", "wing must be LEFT or RIGHT", nil)
	}
	if _, err := s.store.GetDomain(ctx, domainID); err != nil {
		return err
	}
	if _, err := s.store.GetUserByID(ctx, in.UserID); err != nil {
		return err
	}
	return s.store.UpsertDomainExpert(ctx, store.DomainExpert{
		UserID:   in.UserID,
		DomainID: domainID,
		Role:     role,
		Wing:     wing,
	})
}

func (s *Service) RemoveExpert(ctx context.Context, session Session, domainID, userID string) error {
	if !s.Can(session.Role, rbac.ActionManageExperts) {
		return apiError(http.StatusForbidden, "FORBIDDEN", "only admins can manage experts", nil)
	}
	return s.store.RemoveDomainExpert(ctx, userID, domainID)
}

func (s *Service) ListDomainExperts(ctx context.Context, domainID string) ([]store.DomainExpert, error) {
	if _, err := s.store.GetDomain(ctx, domainID); err != nil {
		return nil, err
	}
	return s.store.ListDomainExperts(ctx, domainID)
}

// DomainVotingShares resolves who currently holds voting power over a
// domain wing: the persisted ledger (permanent exchanges) with ACTIVE
// investments overlaid at read time, and the self share squeezed to the
// residual. Expired investments revert without any write.
func (s *Service) DomainVotingShares(ctx context.Context, domainID, wing string) ([]store.VotingShare, error) {
	wing = strings.ToUpper(wing)
	if !voting.ValidWing(wing) {
		return nil, apiError(http.StatusUnprocessableEntity, "VALIDATION", "wing must be LEFT or RIGHT", nil)
	}

	ledger, err := s.store.ListVotingShares(ctx, domainID, wing)
	if err != nil {
		return nil, err
	}

	type ownerKey struct{ domainID, wing string }
	external := make(map[ownerKey]float64)
	for _, row := range ledger {
		if row.OwnerDomainID == domainID && row.OwnerWing == wing {
			continue // self share is recomputed as the residual
		}
		external[ownerKey{row.OwnerDomainID, row.OwnerWing}] += row.Percentage
	}

	investments, err := s.store.ListActiveInvestmentsTouching(ctx, domainID, wing)
	if err != nil {
		return nil, err
	}
	for _, inv := range investments {
		if inv.TargetDomainID == domainID && inv.TargetWing == wing {
			// Proposer wing holds a stake here for the investment term.
			external[ownerKey{inv.ProposerDomainID, inv.ProposerWing}] += inv.PctInvested
		}
		if inv.ProposerDomainID == domainID && inv.ProposerWing == wing {
			// Return stake flows the other way.
			external[ownerKey{inv.TargetDomainID, inv.TargetWing}] += inv.PctReturn
		}
	}

	var claimed float64
	keys := make([]ownerKey, 0, len(external))
	for k, pct := range external {
		if pct <= 0 {
			continue
		}
		claimed += pct
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].domainID != keys[j].domainID {
			return keys[i].domainID < keys[j].domainID
		}
		return keys[i].wing < keys[j].wing
	})

	self := 100 - claimed
	if self < 0 {
		self = 0
	}

	shares := make([]store.VotingShare, 0, len(keys)+1)
	shares = append(shares, store.VotingShare{
		DomainID:      domainID,
		DomainWing:    wing,
		OwnerDomainID: domainID,
		OwnerWing:     wing,
		Percentage:    self,
	})
	for _, k := range keys {
		shares = append(shares, store.VotingShare{
			DomainID:      domainID,
			DomainWing:    wing,
			OwnerDomainID: k.domainID,
			OwnerWing:     k.wing,
			Percentage:    external[k],
		})
	}
	return shares, nil
}

// AvailableVotingPower is the share a wing still holds over itself, i.e.
// what it can commit to new exchanges or investments.
func (s *Service) AvailableVotingPower(ctx context.Context, domainID, wing string) (float64, error) {
	shares, err := s.DomainVotingShares(ctx, domainID, wing)
	if err != nil {
		return 0, err
	}
	for _, share := range shares {
		if share.OwnerDomainID == domainID && share.OwnerWing == wing {
			return share.Percentage, nil
		}
	}
	return 0, nil
}

// UserVotingWeight resolves a user's effective voting weight in a domain.
// Every expert membership the user holds is a path: the membership's wing
// owns some percentage of the target wing, and the role multiplier scales
// it. The best path wins; paths never sum. Direct mode spans both wings of
// the target domain, candidacy mode is strictly scoped to targetWing.
// Admins with no qualifying membership fall back to weight 1.0 in direct
// mode only; wing-scoped votes never get a bypass.
func (s *Service) UserVotingWeight(ctx context.Context, userID, globalRole, domainID string, mode voting.Mode, targetWing string) (float64, error) {
	memberships, err := s.store.ListUserExpertRoles(ctx, userID)
	if err != nil {
		return 0, err
	}

	wings := []string{string(voting.WingLeft), string(voting.WingRight)}
	if mode == voting.ModeCandidacy {
		if !voting.ValidWing(targetWing) {
			return 0, apiError(http.StatusUnprocessableEntity, "VALIDATION", "wing must be LEFT or RIGHT", nil)
		}
		wings = []string{targetWing}
	}

	sharesByWing := make(map[string][]store.VotingShare, len(wings))
	for _, wing := range wings {
		shares, err := s.DomainVotingShares(ctx, domainID, wing)
		if err != nil {
			return 0, err
		}
		sharesByWing[wing] = shares
	}

	var best float64
	for _, m := range memberships {
		multiplier := voting.RoleMultiplier(m.Role)
		for _, wing := range wings {
			for _, share := range sharesByWing[wing] {
				if share.OwnerDomainID != m.DomainID || share.OwnerWing != m.Wing {
					continue
				}
				if weight := multiplier * share.Percentage / 100; weight > best {
					best = weight
				}
			}
		}
	}

	if best == 0 && mode == voting.ModeDirect && rbac.Normalize(globalRole) == rbac.RoleAdmin {
		return 1, nil
	}
	return best, nil
}

// ApprovalOptions scope a score-approval check. RelatedDomainIDs widens
// the electorate to the experts of secondary domains, weighted against
// their own domain's share tables.
type ApprovalOptions struct {
	Mode             voting.Mode
	Wing             string
	NoRejection      bool
	RelatedDomainIDs []string
}

// CheckScoreApproval runs the shared quorum over a vote set. Rights are
// expressed in stored-score units: a voter's rights are the weighted value
// of a maximal score under their current resolver weight, so totals stay
// comparable with the persisted ballots.
func (s *Service) CheckScoreApproval(ctx context.Context, domainID string, votes []store.ScoreVote, opts ApprovalOptions) (voting.Result, error) {
	domainIDs := append([]string{domainID}, opts.RelatedDomainIDs...)

	var electorate []store.DomainExpert
	if opts.Mode == voting.ModeCandidacy {
		wingExperts, err := s.store.ListWingExperts(ctx, domainID, opts.Wing)
		if err != nil {
			return voting.Result{}, err
		}
		electorate = wingExperts
	} else {
		seen := make(map[string]bool)
		for _, id := range domainIDs {
			experts, err := s.store.ListDomainExperts(ctx, id)
			if err != nil {
				return voting.Result{}, err
			}
			for _, expert := range experts {
				if seen[expert.UserID] {
					continue
				}
				seen[expert.UserID] = true
				electorate = append(electorate, expert)
			}
		}
	}

	voted := make(map[string]bool, len(votes))
	var totalScore float64
	for _, v := range votes {
		voted[v.VoterID] = true
		totalScore += float64(v.WeightedScore)
	}

	var totalRights, participation float64
	inElectorate := make(map[string]bool, len(electorate))
	for _, elector := range electorate {
		inElectorate[elector.UserID] = true
		var weight float64
		for _, id := range domainIDs {
			w, err := s.UserVotingWeight(ctx, elector.UserID, "", id, opts.Mode, opts.Wing)
			if err != nil {
				return voting.Result{}, err
			}
			if w > weight {
				weight = w
			}
		}
		rights := float64(voting.WeightedScore(voting.MaxScore, weight))
		totalRights += rights
		if voted[elector.UserID] {
			participation += rights
		}
	}

	// Voters outside the electorate (admin bypass on content) count with
	// the weight they cast at, on both sides of the ratio.
	for _, v := range votes {
		if inElectorate[v.VoterID] {
			continue
		}
		rights := float64(voting.WeightedScore(voting.MaxScore, v.Weight))
		totalRights += rights
		participation += rights
	}

	return voting.Decide(totalScore, totalRights, participation, opts.NoRejection), nil
}

// quorumMet reports whether participation alone reached the threshold; a
// pending outcome with quorum met means the score landed in the middling
// band, which content flows surface as REVIEWABLE.
func quorumMet(r voting.Result) bool {
	return r.TotalRights > 0 && r.ParticipationRights >= r.TotalRights/2
}
