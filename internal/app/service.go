package app

import (
	"context"
	"time"

	"arbor/api/internal/auth"
	"arbor/api/internal/authpw"
	"arbor/api/internal/config"
	"arbor/api/internal/contentrepo"
	"arbor/api/internal/rbac"
	"arbor/api/internal/search"
	"arbor/api/internal/store"
	"arbor/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is everything the governance core needs from Postgres.
type dataStore interface {
	// users and sessions
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	// domains and experts
	CreateDomain(context.Context, store.Domain) error
	GetDomain(context.Context, string) (store.Domain, error)
	GetDomainBySlug(context.Context, string) (store.Domain, error)
	ListDomains(context.Context) ([]store.Domain, error)
	DomainChildCount(context.Context, string) (int, error)
	DomainContentCount(context.Context, string) (int, error)
	DeleteDomain(context.Context, string) error
	UpsertDomainExpert(context.Context, store.DomainExpert) error
	RemoveDomainExpert(context.Context, string, string) error
	ListDomainExperts(context.Context, string) ([]store.DomainExpert, error)
	ListWingExperts(context.Context, string, string) ([]store.DomainExpert, error)
	ListUserExpertRoles(context.Context, string) ([]store.DomainExpert, error)

	// voting-share ledger
	ListVotingShares(context.Context, string, string) ([]store.VotingShare, error)

	// exchanges
	CreateExchangeProposal(context.Context, store.ExchangeProposal) error
	GetExchangeProposal(context.Context, string) (store.ExchangeProposal, error)
	UpsertExchangeVote(context.Context, store.TransferVote) error
	ListExchangeVotes(context.Context, string) ([]store.TransferVote, error)
	RejectExchangeProposal(context.Context, string) (bool, error)
	ExecuteExchangeTx(context.Context, store.ExchangeProposal) (bool, error)

	// investments
	CreateInvestment(context.Context, store.Investment) error
	GetInvestment(context.Context, string) (store.Investment, error)
	ListActiveInvestmentsTouching(context.Context, string, string) ([]store.Investment, error)
	UpsertInvestmentVote(context.Context, store.TransferVote) error
	ListInvestmentVotes(context.Context, string) ([]store.TransferVote, error)
	RejectInvestment(context.Context, string) (bool, error)
	ActivateInvestment(context.Context, string, int) (bool, error)
	TerminateInvestment(context.Context, string) (bool, error)
	ExpireInvestments(context.Context, time.Time) ([]string, error)
	RejectStaleProposals(context.Context, time.Time) ([]store.SweptProposal, error)

	// posts
	CreatePost(context.Context, store.Post) error
	GetPost(context.Context, string) (store.Post, error)
	UpdatePostContent(context.Context, string, string, string) (bool, error)
	SubmitPost(context.Context, string) (bool, error)
	UpsertPostVote(context.Context, store.ScoreVote) error
	ListPostVotes(context.Context, string) ([]store.ScoreVote, error)
	ApprovePostTx(context.Context, string) (int, bool, error)
	SetPostStatus(context.Context, string, string, string) (bool, error)
	ListDomainPosts(context.Context, string) ([]store.Post, error)

	// elections
	CreateElectionRound(context.Context, store.ElectionRound) error
	GetElectionRound(context.Context, string) (store.ElectionRound, error)
	ListDomainRounds(context.Context, string) ([]store.ElectionRound, error)
	SetRoundStatus(context.Context, string, string, string) (bool, error)
	CloseRound(context.Context, string) (bool, error)
	ExpireRounds(context.Context, time.Time) ([]string, error)
	CreateCandidacy(context.Context, store.Candidacy) error
	GetCandidacy(context.Context, string) (store.Candidacy, error)
	ListRoundCandidacies(context.Context, string) ([]store.Candidacy, error)
	ListCandidacyVotes(context.Context, string) ([]store.ScoreVote, error)
	IncrementCandidacyScoreTx(context.Context, store.ScoreVote) (bool, error)
	SetCandidacyStatus(context.Context, string, string) (bool, error)

	// courses, chapters, prerequisites
	CreateCourse(context.Context, store.Course) error
	GetCourse(context.Context, string) (store.Course, error)
	ListDomainCourses(context.Context, string) ([]store.Course, error)
	SetCourseStatus(context.Context, string, string, string) (bool, error)
	UpsertCourseVote(context.Context, store.ScoreVote) error
	ListCourseVotes(context.Context, string) ([]store.ScoreVote, error)
	CreateChapter(context.Context, store.Chapter) error
	GetChapter(context.Context, string) (store.Chapter, error)
	ListCourseChapters(context.Context, string) ([]store.Chapter, error)
	SetChapterStatus(context.Context, string, string, string) (bool, error)
	UpsertChapterVote(context.Context, store.ScoreVote) error
	ListChapterVotes(context.Context, string) ([]store.ScoreVote, error)
	CreatePrerequisite(context.Context, store.Prerequisite) error
	GetPrerequisite(context.Context, string) (store.Prerequisite, error)
	ListCoursePrerequisites(context.Context, string) ([]store.Prerequisite, error)
	ListCoursePrereqEdges(context.Context) ([][2]string, error)
	SetPrerequisiteStatus(context.Context, string, string) (bool, error)
	UpsertPrerequisiteVote(context.Context, store.ScoreVote) error
	ListPrerequisiteVotes(context.Context, string) ([]store.ScoreVote, error)

	Ping(ctx context.Context) error
}

// refreshStore holds refresh-token sessions. Backed by Redis when
// configured, otherwise by the Postgres store.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// contentArchive is the per-post git archive.
type contentArchive interface {
	EnsurePostRepo(string, contentrepo.Content, string) error
	CommitRevision(string, contentrepo.Content, string, string) (store.CommitInfo, error)
	GetHeadContent(string) (contentrepo.Content, store.CommitInfo, error)
	History(string, int) ([]store.CommitInfo, error)
	GetContentByHash(string, string) (contentrepo.Content, error)
	TagVersion(string, string, string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	archive  contentArchive
	search   *search.Service
	authpw   *authpw.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, archive *contentrepo.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		archive:  archive,
	}
}

// WithSessions swaps in a dedicated refresh-token backend (Redis).
func (s *Service) WithSessions(sessions refreshStore) *Service {
	s.sessions = sessions
	return s
}

// WithSearch attaches the search facade.
func (s *Service) WithSearch(svc *search.Service) *Service {
	s.search = svc
	return s
}

// WithPasswordAuth attaches the email/password auth service.
func (s *Service) WithPasswordAuth(svc *authpw.Service) *Service {
	s.authpw = svc
	return s
}

// AuthPasswordService exposes the password auth service to the HTTP layer.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CreateSession issues an access/refresh token pair for a verified user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Redis only stores the user id; rehydrate the principal.
	if user.Email == "" || user.DisplayName == "" {
		if full, err := s.store.GetUserByID(ctx, user.ID); err == nil {
			user = full
		}
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Search runs a full-text query over posts, domains and courses.
func (s *Service) Search(ctx context.Context, text, filterType, domainID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:           text,
		FilterType:     search.ResultType(filterType),
		FilterDomainID: domainID,
		Limit:          limit,
		Offset:         offset,
	}), nil
}
