package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"arbor/api/internal/contentrepo"
	"arbor/api/internal/store"
)

// memStore is an in-memory dataStore with the same transition guards as
// the Postgres implementation.
type memStore struct {
	mu sync.Mutex

	users          map[string]store.User
	refreshTokens  map[string]string // tokenHash -> userID
	revokedAccess  map[string]bool
	passwordResets map[string]string // token -> userID

	domains map[string]store.Domain
	experts []store.DomainExpert
	shares  map[[4]string]float64 // domainID, wing, ownerDomainID, ownerWing

	exchanges       map[string]*store.ExchangeProposal
	exchangeVotes   map[string]map[[2]string]store.TransferVote
	investments     map[string]*store.Investment
	investmentVotes map[string]map[[2]string]store.TransferVote

	posts        map[string]*store.Post
	postVotes    map[string]map[string]store.ScoreVote
	postVersions int

	rounds         map[string]*store.ElectionRound
	candidacies    map[string]*store.Candidacy
	candidacyVotes map[string]map[string]store.ScoreVote

	courses      map[string]*store.Course
	courseVotes  map[string]map[string]store.ScoreVote
	chapters     map[string]*store.Chapter
	chapterVotes map[string]map[string]store.ScoreVote
	prereqs      map[string]*store.Prerequisite
	prereqVotes  map[string]map[string]store.ScoreVote
}

func newMemStore() *memStore {
	return &memStore{
		users:           map[string]store.User{},
		refreshTokens:   map[string]string{},
		revokedAccess:   map[string]bool{},
		passwordResets:  map[string]string{},
		domains:         map[string]store.Domain{},
		shares:          map[[4]string]float64{},
		exchanges:       map[string]*store.ExchangeProposal{},
		exchangeVotes:   map[string]map[[2]string]store.TransferVote{},
		investments:     map[string]*store.Investment{},
		investmentVotes: map[string]map[[2]string]store.TransferVote{},
		posts:           map[string]*store.Post{},
		postVotes:       map[string]map[string]store.ScoreVote{},
		rounds:          map[string]*store.ElectionRound{},
		candidacies:     map[string]*store.Candidacy{},
		candidacyVotes:  map[string]map[string]store.ScoreVote{},
		courses:         map[string]*store.Course{},
		courseVotes:     map[string]map[string]store.ScoreVote{},
		chapters:        map[string]*store.Chapter{},
		chapterVotes:    map[string]map[string]store.ScoreVote{},
		prereqs:         map[string]*store.Prerequisite{},
		prereqVotes:     map[string]map[string]store.ScoreVote{},
	}
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

// users

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokedAccess[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokedAccess[jti], nil
}

func (m *memStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshTokens[tokenHash] = userID
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.refreshTokens[tokenHash]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return m.users[userID], nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refreshTokens, tokenHash)
	return nil
}

// domains

func (m *memStore) CreateDomain(_ context.Context, domain store.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	domain.CreatedAt = time.Now()
	m.domains[domain.ID] = domain
	for _, wing := range []string{"LEFT", "RIGHT"} {
		m.shares[[4]string{domain.ID, wing, domain.ID, wing}] = 100
	}
	return nil
}

func (m *memStore) GetDomain(_ context.Context, id string) (store.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	domain, ok := m.domains[id]
	if !ok {
		return store.Domain{}, store.ErrNotFound
	}
	return domain, nil
}

func (m *memStore) GetDomainBySlug(_ context.Context, slug string) (store.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, domain := range m.domains {
		if domain.Slug == slug {
			return domain, nil
		}
	}
	return store.Domain{}, store.ErrNotFound
}

func (m *memStore) ListDomains(_ context.Context) ([]store.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Domain, 0, len(m.domains))
	for _, domain := range m.domains {
		out = append(out, domain)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) DomainChildCount(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, domain := range m.domains {
		if domain.ParentID != nil && *domain.ParentID == id {
			count++
		}
	}
	return count, nil
}

func (m *memStore) DomainContentCount(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, post := range m.posts {
		if post.DomainID == id {
			count++
		}
	}
	for _, course := range m.courses {
		if course.DomainID == id {
			count++
		}
	}
	return count, nil
}

func (m *memStore) DeleteDomain(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.domains, id)
	for key := range m.shares {
		if key[0] == id || key[2] == id {
			delete(m.shares, key)
		}
	}
	kept := m.experts[:0]
	for _, e := range m.experts {
		if e.DomainID != id {
			kept = append(kept, e)
		}
	}
	m.experts = kept
	return nil
}

func (m *memStore) UpsertDomainExpert(_ context.Context, expert store.DomainExpert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.experts {
		if e.UserID == expert.UserID && e.DomainID == expert.DomainID {
			m.experts[i].Role = expert.Role
			m.experts[i].Wing = expert.Wing
			return nil
		}
	}
	expert.CreatedAt = time.Now()
	m.experts = append(m.experts, expert)
	return nil
}

func (m *memStore) RemoveDomainExpert(_ context.Context, userID, domainID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.experts[:0]
	for _, e := range m.experts {
		if !(e.UserID == userID && e.DomainID == domainID) {
			kept = append(kept, e)
		}
	}
	m.experts = kept
	return nil
}

func (m *memStore) ListDomainExperts(_ context.Context, domainID string) ([]store.DomainExpert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.DomainExpert, 0)
	for _, e := range m.experts {
		if e.DomainID == domainID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) ListWingExperts(_ context.Context, domainID, wing string) ([]store.DomainExpert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.DomainExpert, 0)
	for _, e := range m.experts {
		if e.DomainID == domainID && e.Wing == wing {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) ListUserExpertRoles(_ context.Context, userID string) ([]store.DomainExpert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.DomainExpert, 0)
	for _, e := range m.experts {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// shares

func (m *memStore) ListVotingShares(_ context.Context, domainID, wing string) ([]store.VotingShare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.VotingShare, 0)
	for key, pct := range m.shares {
		if key[0] == domainID && key[1] == wing {
			out = append(out, store.VotingShare{
				DomainID:      key[0],
				DomainWing:    key[1],
				OwnerDomainID: key[2],
				OwnerWing:     key[3],
				Percentage:    pct,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerDomainID != out[j].OwnerDomainID {
			return out[i].OwnerDomainID < out[j].OwnerDomainID
		}
		return out[i].OwnerWing < out[j].OwnerWing
	})
	return out, nil
}

func (m *memStore) adjustShareLocked(domainID, wing, ownerDomainID, ownerWing string, delta float64) {
	m.shares[[4]string{domainID, wing, ownerDomainID, ownerWing}] += delta
}

// exchanges

func (m *memStore) CreateExchangeProposal(_ context.Context, proposal store.ExchangeProposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal.Status = store.ProposalPending
	proposal.CreatedAt = time.Now()
	m.exchanges[proposal.ID] = &proposal
	return nil
}

func (m *memStore) GetExchangeProposal(_ context.Context, id string) (store.ExchangeProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.exchanges[id]
	if !ok {
		return store.ExchangeProposal{}, store.ErrNotFound
	}
	return *proposal, nil
}

func (m *memStore) UpsertExchangeVote(_ context.Context, vote store.TransferVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exchangeVotes[vote.SubjectID] == nil {
		m.exchangeVotes[vote.SubjectID] = map[[2]string]store.TransferVote{}
	}
	vote.CreatedAt = time.Now()
	m.exchangeVotes[vote.SubjectID][[2]string{vote.VoterID, vote.DomainID}] = vote
	return nil
}

func (m *memStore) ListExchangeVotes(_ context.Context, id string) ([]store.TransferVote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.TransferVote, 0)
	for _, vote := range m.exchangeVotes[id] {
		out = append(out, vote)
	}
	return out, nil
}

func (m *memStore) RejectExchangeProposal(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.exchanges[id]
	if !ok || proposal.Status != store.ProposalPending {
		return false, nil
	}
	proposal.Status = store.ProposalRejected
	return true, nil
}

func (m *memStore) ExecuteExchangeTx(_ context.Context, proposal store.ExchangeProposal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.exchanges[proposal.ID]
	if !ok || stored.Status != store.ProposalPending {
		return false, nil
	}
	now := time.Now()
	stored.Status = store.ProposalExecuted
	stored.ExecutedAt = &now

	m.adjustShareLocked(proposal.ProposerDomainID, proposal.ProposerWing, proposal.ProposerDomainID, proposal.ProposerWing, -proposal.PctProposerToTarget)
	m.adjustShareLocked(proposal.ProposerDomainID, proposal.ProposerWing, proposal.TargetDomainID, proposal.TargetWing, proposal.PctProposerToTarget)
	m.adjustShareLocked(proposal.TargetDomainID, proposal.TargetWing, proposal.TargetDomainID, proposal.TargetWing, -proposal.PctTargetToProposer)
	m.adjustShareLocked(proposal.TargetDomainID, proposal.TargetWing, proposal.ProposerDomainID, proposal.ProposerWing, proposal.PctTargetToProposer)
	return true, nil
}

// investments

func (m *memStore) CreateInvestment(_ context.Context, investment store.Investment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	investment.Status = store.ProposalPending
	investment.CreatedAt = time.Now()
	m.investments[investment.ID] = &investment
	return nil
}

func (m *memStore) GetInvestment(_ context.Context, id string) (store.Investment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	investment, ok := m.investments[id]
	if !ok {
		return store.Investment{}, store.ErrNotFound
	}
	return *investment, nil
}

func (m *memStore) ListActiveInvestmentsTouching(_ context.Context, domainID, wing string) ([]store.Investment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Investment, 0)
	for _, inv := range m.investments {
		if inv.Status != store.ProposalActive {
			continue
		}
		if (inv.TargetDomainID == domainID && inv.TargetWing == wing) ||
			(inv.ProposerDomainID == domainID && inv.ProposerWing == wing) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memStore) UpsertInvestmentVote(_ context.Context, vote store.TransferVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.investmentVotes[vote.SubjectID] == nil {
		m.investmentVotes[vote.SubjectID] = map[[2]string]store.TransferVote{}
	}
	vote.CreatedAt = time.Now()
	m.investmentVotes[vote.SubjectID][[2]string{vote.VoterID, vote.DomainID}] = vote
	return nil
}

func (m *memStore) ListInvestmentVotes(_ context.Context, id string) ([]store.TransferVote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.TransferVote, 0)
	for _, vote := range m.investmentVotes[id] {
		out = append(out, vote)
	}
	return out, nil
}

func (m *memStore) RejectInvestment(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	investment, ok := m.investments[id]
	if !ok || investment.Status != store.ProposalPending {
		return false, nil
	}
	investment.Status = store.ProposalRejected
	return true, nil
}

func (m *memStore) ActivateInvestment(_ context.Context, id string, durationYears int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	investment, ok := m.investments[id]
	if !ok || investment.Status != store.ProposalPending {
		return false, nil
	}
	now := time.Now()
	investment.Status = store.ProposalActive
	investment.StartDate = &now
	if durationYears > 0 {
		end := now.AddDate(durationYears, 0, 0)
		investment.EndDate = &end
	}
	return true, nil
}

func (m *memStore) TerminateInvestment(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	investment, ok := m.investments[id]
	if !ok || investment.Status != store.ProposalActive {
		return false, nil
	}
	now := time.Now()
	investment.Status = store.ProposalExpired
	investment.EndDate = &now
	return true, nil
}

func (m *memStore) ExpireInvestments(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	for id, inv := range m.investments {
		if inv.Status == store.ProposalActive && inv.EndDate != nil && !inv.EndDate.After(now) {
			inv.Status = store.ProposalExpired
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) RejectStaleProposals(_ context.Context, cutoff time.Time) ([]store.SweptProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	swept := make([]store.SweptProposal, 0)
	for id, p := range m.prereqs {
		if p.Status == store.ProposalPending && !p.CreatedAt.After(cutoff) {
			p.Status = store.ProposalRejected
			swept = append(swept, store.SweptProposal{ID: id, Type: "prerequisite"})
		}
	}
	for id, e := range m.exchanges {
		if e.Status == store.ProposalPending && !e.CreatedAt.After(cutoff) {
			e.Status = store.ProposalRejected
			swept = append(swept, store.SweptProposal{ID: id, Type: "exchange"})
		}
	}
	for id, i := range m.investments {
		if i.Status == store.ProposalPending && !i.CreatedAt.After(cutoff) {
			i.Status = store.ProposalRejected
			swept = append(swept, store.SweptProposal{ID: id, Type: "investment"})
		}
	}
	return swept, nil
}

// posts

func (m *memStore) CreatePost(_ context.Context, post store.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	post.CreatedAt = time.Now()
	post.UpdatedAt = post.CreatedAt
	m.posts[post.ID] = &post
	return nil
}

func (m *memStore) GetPost(_ context.Context, id string) (store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[id]
	if !ok {
		return store.Post{}, store.ErrNotFound
	}
	return *post, nil
}

func (m *memStore) UpdatePostContent(_ context.Context, id, title, content string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[id]
	if !ok || post.Status != store.PostDraft {
		return false, nil
	}
	post.Title = title
	post.Content = content
	post.UpdatedAt = time.Now()
	return true, nil
}

func sameLineage(a, b *store.Post) bool {
	lineage := func(p *store.Post) string {
		if p.OriginalPostID != nil {
			return *p.OriginalPostID
		}
		return p.ID
	}
	return lineage(a) == lineage(b)
}

func (m *memStore) SubmitPost(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[id]
	if !ok || post.Status != store.PostDraft {
		return false, nil
	}
	maxRevision := 0
	for otherID, other := range m.posts {
		if otherID != id && sameLineage(post, other) && other.RevisionNumber > maxRevision {
			maxRevision = other.RevisionNumber
		}
	}
	post.Status = store.PostPending
	post.RevisionNumber = maxRevision + 1
	return true, nil
}

func (m *memStore) UpsertPostVote(_ context.Context, vote store.ScoreVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postVotes[vote.SubjectID] == nil {
		m.postVotes[vote.SubjectID] = map[string]store.ScoreVote{}
	}
	vote.CreatedAt = time.Now()
	m.postVotes[vote.SubjectID][vote.VoterID] = vote
	return nil
}

func (m *memStore) ListPostVotes(_ context.Context, id string) ([]store.ScoreVote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.ScoreVote, 0)
	for _, vote := range m.postVotes[id] {
		out = append(out, vote)
	}
	return out, nil
}

func (m *memStore) ApprovePostTx(_ context.Context, id string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[id]
	if !ok || (post.Status != store.PostPending && post.Status != store.PostReviewable) {
		return 0, false, nil
	}
	for otherID, other := range m.posts {
		if otherID == id {
			continue
		}
		if other.Status == store.PostApproved && sameLineage(post, other) {
			other.Status = store.PostArchived
		}
	}
	post.Status = store.PostApproved
	m.postVersions++
	post.Version = m.postVersions
	return post.Version, true, nil
}

func (m *memStore) SetPostStatus(_ context.Context, id, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[id]
	if !ok || post.Status != from {
		return false, nil
	}
	post.Status = to
	return true, nil
}

func (m *memStore) ListDomainPosts(_ context.Context, domainID string) ([]store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Post, 0)
	for _, post := range m.posts {
		if post.DomainID == domainID {
			out = append(out, *post)
		}
	}
	return out, nil
}

// elections

func (m *memStore) CreateElectionRound(_ context.Context, round store.ElectionRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rounds {
		if existing.DomainID == round.DomainID && existing.Wing == round.Wing && existing.Status != store.RoundClosed {
			return store.ErrNotFound // stands in for the unique violation
		}
	}
	round.CreatedAt = time.Now()
	m.rounds[round.ID] = &round
	return nil
}

func (m *memStore) GetElectionRound(_ context.Context, id string) (store.ElectionRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	round, ok := m.rounds[id]
	if !ok {
		return store.ElectionRound{}, store.ErrNotFound
	}
	return *round, nil
}

func (m *memStore) ListDomainRounds(_ context.Context, domainID string) ([]store.ElectionRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.ElectionRound, 0)
	for _, round := range m.rounds {
		if round.DomainID == domainID {
			out = append(out, *round)
		}
	}
	return out, nil
}

func (m *memStore) SetRoundStatus(_ context.Context, id, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	round, ok := m.rounds[id]
	if !ok || round.Status != from {
		return false, nil
	}
	round.Status = to
	return true, nil
}

func (m *memStore) CloseRound(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	round, ok := m.rounds[id]
	if !ok || round.Status == store.RoundClosed {
		return false, nil
	}
	round.Status = store.RoundClosed
	return true, nil
}

func (m *memStore) ExpireRounds(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	for id, round := range m.rounds {
		if round.Status != store.RoundClosed && !round.EndDate.After(now) {
			round.Status = store.RoundClosed
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) CreateCandidacy(_ context.Context, candidacy store.Candidacy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidacy.Status = store.CandidacyPending
	candidacy.TotalScore = 0
	candidacy.CreatedAt = time.Now()
	m.candidacies[candidacy.ID] = &candidacy
	return nil
}

func (m *memStore) GetCandidacy(_ context.Context, id string) (store.Candidacy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidacy, ok := m.candidacies[id]
	if !ok {
		return store.Candidacy{}, store.ErrNotFound
	}
	return *candidacy, nil
}

func (m *memStore) ListRoundCandidacies(_ context.Context, roundID string) ([]store.Candidacy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Candidacy, 0)
	for _, candidacy := range m.candidacies {
		if candidacy.RoundID == roundID {
			out = append(out, *candidacy)
		}
	}
	return out, nil
}

func (m *memStore) ListCandidacyVotes(_ context.Context, candidacyID string) ([]store.ScoreVote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.ScoreVote, 0)
	for _, vote := range m.candidacyVotes[candidacyID] {
		out = append(out, vote)
	}
	return out, nil
}

func (m *memStore) IncrementCandidacyScoreTx(_ context.Context, vote store.ScoreVote) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidacy, ok := m.candidacies[vote.SubjectID]
	if !ok || candidacy.Status != store.CandidacyPending {
		return false, nil
	}
	// Prior ballot is read under the same lock that applies the delta,
	// mirroring the SQL row lock.
	prior := m.candidacyVotes[vote.SubjectID][vote.VoterID].WeightedScore
	candidacy.TotalScore += vote.WeightedScore - prior
	if m.candidacyVotes[vote.SubjectID] == nil {
		m.candidacyVotes[vote.SubjectID] = map[string]store.ScoreVote{}
	}
	vote.CreatedAt = time.Now()
	m.candidacyVotes[vote.SubjectID][vote.VoterID] = vote
	return true, nil
}

func (m *memStore) SetCandidacyStatus(_ context.Context, id, status string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidacy, ok := m.candidacies[id]
	if !ok || candidacy.Status != store.CandidacyPending {
		return false, nil
	}
	candidacy.Status = status
	return true, nil
}

// courses

func (m *memStore) CreateCourse(_ context.Context, course store.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	course.CreatedAt = time.Now()
	m.courses[course.ID] = &course
	return nil
}

func (m *memStore) GetCourse(_ context.Context, id string) (store.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	course, ok := m.courses[id]
	if !ok {
		return store.Course{}, store.ErrNotFound
	}
	return *course, nil
}

func (m *memStore) ListDomainCourses(_ context.Context, domainID string) ([]store.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Course, 0)
	for _, course := range m.courses {
		if course.DomainID == domainID {
			out = append(out, *course)
		}
	}
	return out, nil
}

func (m *memStore) SetCourseStatus(_ context.Context, id, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	course, ok := m.courses[id]
	if !ok || course.Status != from {
		return false, nil
	}
	course.Status = to
	return true, nil
}

func (m *memStore) UpsertCourseVote(_ context.Context, vote store.ScoreVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.courseVotes[vote.SubjectID] == nil {
		m.courseVotes[vote.SubjectID] = map[string]store.ScoreVote{}
	}
	m.courseVotes[vote.SubjectID][vote.VoterID] = vote
	return nil
}

func (m *memStore) ListCourseVotes(_ context.Context, id string) ([]store.ScoreVote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.ScoreVote, 0)
	for _, vote := range m.courseVotes[id] {
		out = append(out, vote)
	}
	return out, nil
}

func (m *memStore) CreateChapter(_ context.Context, chapter store.Chapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chapter.CreatedAt = time.Now()
	m.chapters[chapter.ID] = &chapter
	return nil
}

func (m *memStore) GetChapter(_ context.Context, id string) (store.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chapter, ok := m.chapters[id]
	if !ok {
		return store.Chapter{}, store.ErrNotFound
	}
	return *chapter, nil
}

func (m *memStore) ListCourseChapters(_ context.Context, courseID string) ([]store.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Chapter, 0)
	for _, chapter := range m.chapters {
		if chapter.CourseID == courseID {
			out = append(out, *chapter)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memStore) SetChapterStatus(_ context.Context, id, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chapter, ok := m.chapters[id]
	if !ok || chapter.Status != from {
		return false, nil
	}
	chapter.Status = to
	return true, nil
}

func (m *memStore) UpsertChapterVote(_ context.Context, vote store.ScoreVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chapterVotes[vote.SubjectID] == nil {
		m.chapterVotes[vote.SubjectID] = map[string]store.ScoreVote{}
	}
	m.chapterVotes[vote.SubjectID][vote.VoterID] = vote
	return nil
}

func (m *memStore) ListChapterVotes(_ context.Context, id string) ([]store.ScoreVote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.ScoreVote, 0)
	for _, vote := range m.chapterVotes[id] {
		out = append(out, vote)
	}
	return out, nil
}

func (m *memStore) CreatePrerequisite(_ context.Context, prereq store.Prerequisite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prereq.Status = store.ProposalPending
	prereq.CreatedAt = time.Now()
	m.prereqs[prereq.ID] = &prereq
	return nil
}

func (m *memStore) GetPrerequisite(_ context.Context, id string) (store.Prerequisite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prereq, ok := m.prereqs[id]
	if !ok {
		return store.Prerequisite{}, store.ErrNotFound
	}
	return *prereq, nil
}

func (m *memStore) ListCoursePrerequisites(_ context.Context, courseID string) ([]store.Prerequisite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Prerequisite, 0)
	for _, prereq := range m.prereqs {
		if prereq.CourseID == courseID {
			out = append(out, *prereq)
		}
	}
	return out, nil
}

func (m *memStore) ListCoursePrereqEdges(_ context.Context) ([][2]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][2]string, 0)
	for _, prereq := range m.prereqs {
		if prereq.Kind != store.PrereqCourse {
			continue
		}
		if prereq.Status == store.ProposalPending || prereq.Status == store.PostApproved {
			out = append(out, [2]string{prereq.CourseID, prereq.PrereqCourseID})
		}
	}
	return out, nil
}

func (m *memStore) SetPrerequisiteStatus(_ context.Context, id, status string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prereq, ok := m.prereqs[id]
	if !ok || prereq.Status != store.ProposalPending {
		return false, nil
	}
	prereq.Status = status
	return true, nil
}

func (m *memStore) UpsertPrerequisiteVote(_ context.Context, vote store.ScoreVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prereqVotes[vote.SubjectID] == nil {
		m.prereqVotes[vote.SubjectID] = map[string]store.ScoreVote{}
	}
	m.prereqVotes[vote.SubjectID][vote.VoterID] = vote
	return nil
}

func (m *memStore) ListPrerequisiteVotes(_ context.Context, id string) ([]store.ScoreVote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.ScoreVote, 0)
	for _, vote := range m.prereqVotes[id] {
		out = append(out, vote)
	}
	return out, nil
}

// fakeArchive is an in-memory stand-in for the git-backed post archive.
type fakeArchive struct {
	mu      sync.Mutex
	commits map[string][]store.CommitInfo
	content map[string]contentrepo.Content
	tags    map[string][]string
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{
		commits: map[string][]store.CommitInfo{},
		content: map[string]contentrepo.Content{},
		tags:    map[string][]string{},
	}
}

func (f *fakeArchive) EnsurePostRepo(postID string, initial contentrepo.Content, author string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.commits[postID]; ok {
		return nil
	}
	f.content[postID] = initial
	f.commits[postID] = []store.CommitInfo{{Hash: "c0", Message: "Create post draft", Author: author, CreatedAt: time.Now()}}
	return nil
}

func (f *fakeArchive) CommitRevision(postID string, content contentrepo.Content, author, message string) (store.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[postID] = content
	info := store.CommitInfo{
		Hash:      "c" + string(rune('0'+len(f.commits[postID]))),
		Message:   message,
		Author:    author,
		CreatedAt: time.Now(),
	}
	f.commits[postID] = append([]store.CommitInfo{info}, f.commits[postID]...)
	return info, nil
}

func (f *fakeArchive) GetHeadContent(postID string) (contentrepo.Content, store.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	commits := f.commits[postID]
	if len(commits) == 0 {
		return contentrepo.Content{}, store.CommitInfo{}, store.ErrNotFound
	}
	return f.content[postID], commits[0], nil
}

func (f *fakeArchive) History(postID string, limit int) ([]store.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	commits := f.commits[postID]
	if limit > 0 && len(commits) > limit {
		commits = commits[:limit]
	}
	return commits, nil
}

func (f *fakeArchive) GetContentByHash(postID, hash string) (contentrepo.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content[postID], nil
}

func (f *fakeArchive) TagVersion(postID, hash, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[postID] = append(f.tags[postID], name)
	return nil
}
