package store

import "time"

type User struct {
	ID                    string     `json:"id"`
	DisplayName           string     `json:"displayName"`
	Email                 string     `json:"email"`
	PasswordHash          string     `json:"-"`
	Role                  string     `json:"role"`
	IsEmailVerified       bool       `json:"isEmailVerified"`
	VerificationToken     string     `json:"-"`
	VerificationExpiresAt *time.Time `json:"-"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

type Domain struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	ParentID    *string   `json:"parentId"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DomainExpert binds a user to a domain with a governance role and wing.
// At most one row exists per (user, domain); role and wing are upserted.
type DomainExpert struct {
	UserID    string    `json:"userId"`
	DomainID  string    `json:"domainId"`
	Role      string    `json:"role"` // HEAD or EXPERT
	Wing      string    `json:"wing"` // LEFT or RIGHT
	CreatedAt time.Time `json:"createdAt"`
}

// VotingShare is one persisted ledger row: ownerDomain/ownerWing holds
// Percentage% of domain/wing's voting power. The table records permanent
// transfers only; active investments are overlaid at read time.
type VotingShare struct {
	DomainID      string  `json:"domainId"`
	DomainWing    string  `json:"domainWing"`
	OwnerDomainID string  `json:"ownerDomainId"`
	OwnerWing     string  `json:"ownerWing"`
	Percentage    float64 `json:"percentage"`
}

// Proposal statuses shared by exchanges and investments.
const (
	ProposalPending  = "PENDING"
	ProposalRejected = "REJECTED"
	ProposalExecuted = "EXECUTED"
	ProposalActive   = "ACTIVE"
	ProposalExpired  = "EXPIRED"
)

// ExchangeProposal is a permanent bilateral share swap between two
// domain wings.
type ExchangeProposal struct {
	ID                  string     `json:"id"`
	ProposerDomainID    string     `json:"proposerDomainId"`
	ProposerWing        string     `json:"proposerWing"`
	TargetDomainID      string     `json:"targetDomainId"`
	TargetWing          string     `json:"targetWing"`
	PctProposerToTarget float64    `json:"pctProposerToTarget"`
	PctTargetToProposer float64    `json:"pctTargetToProposer"`
	Status              string     `json:"status"`
	CreatedAt           time.Time  `json:"createdAt"`
	ExecutedAt          *time.Time `json:"executedAt"`
}

// Investment is a directional, usually time-bounded share transfer. While
// ACTIVE, the proposer wing holds PctInvested% of the target wing and the
// target wing holds PctReturn% of the proposer wing. DurationYears <= 0
// means no end date.
type Investment struct {
	ID               string     `json:"id"`
	ProposerDomainID string     `json:"proposerDomainId"`
	ProposerWing     string     `json:"proposerWing"`
	TargetDomainID   string     `json:"targetDomainId"`
	TargetWing       string     `json:"targetWing"`
	PctInvested      float64    `json:"pctInvested"`
	PctReturn        float64    `json:"pctReturn"`
	DurationYears    int        `json:"durationYears"`
	Status           string     `json:"status"`
	StartDate        *time.Time `json:"startDate"`
	EndDate          *time.Time `json:"endDate"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// TransferVote is an approve/reject ballot on an exchange or investment,
// cast per affected domain the voter is an expert of.
type TransferVote struct {
	SubjectID string    `json:"subjectId"`
	VoterID   string    `json:"voterId"`
	DomainID  string    `json:"domainId"`
	Approve   bool      `json:"approve"`
	CreatedAt time.Time `json:"createdAt"`
}

// Post statuses.
const (
	PostDraft      = "DRAFT"
	PostPending    = "PENDING"
	PostReviewable = "REVIEWABLE"
	PostApproved   = "APPROVED"
	PostRejected   = "REJECTED"
	PostArchived   = "ARCHIVED"
)

type Post struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	Status           string    `json:"status"`
	DomainID         string    `json:"domainId"`
	AuthorID         string    `json:"authorId"`
	OriginalPostID   *string   `json:"originalPostId"`
	RevisionNumber   int       `json:"revisionNumber"`
	Version          int       `json:"version"`
	RelatedDomainIDs []string  `json:"relatedDomainIds"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ScoreVote is a weighted content ballot. Weight is the resolver output at
// cast time; WeightedScore is the stored round(score * round(weight*2)).
// Persisting the applied weight keeps incremental aggregates honest when a
// voter's underlying share later changes.
type ScoreVote struct {
	SubjectID     string    `json:"subjectId"`
	VoterID       string    `json:"voterId"`
	DomainID      string    `json:"domainId"`
	Score         int       `json:"score"`
	Weight        float64   `json:"weight"`
	WeightedScore int       `json:"weightedScore"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Election round statuses.
const (
	RoundActive        = "ACTIVE"
	RoundMembersActive = "MEMBERS_ACTIVE"
	RoundHeadActive    = "HEAD_ACTIVE"
	RoundClosed        = "CLOSED"
)

type ElectionRound struct {
	ID        string    `json:"id"`
	DomainID  string    `json:"domainId"`
	Wing      string    `json:"wing"`
	Status    string    `json:"status"`
	EndDate   time.Time `json:"endDate"`
	CreatedAt time.Time `json:"createdAt"`
}

// Candidacy statuses.
const (
	CandidacyPending  = "PENDING"
	CandidacyApproved = "APPROVED"
	CandidacyRejected = "REJECTED"
)

type Candidacy struct {
	ID              string    `json:"id"`
	DomainID        string    `json:"domainId"`
	CandidateUserID string    `json:"candidateUserId"`
	Role            string    `json:"role"`
	Wing            string    `json:"wing"`
	RoundID         string    `json:"roundId"`
	Status          string    `json:"status"`
	TotalScore      int       `json:"totalScore"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Course struct {
	ID          string    `json:"id"`
	DomainID    string    `json:"domainId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Chapter struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"courseId"`
	Title     string    `json:"title"`
	Position  int       `json:"position"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Prerequisite kinds.
const (
	PrereqCourse   = "COURSE"
	PrereqResearch = "RESEARCH"
	PrereqDomain   = "DOMAIN"
)

type Prerequisite struct {
	ID             string    `json:"id"`
	CourseID       string    `json:"courseId"`
	PrereqCourseID string    `json:"prereqCourseId"`
	Kind           string    `json:"kind"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SweptProposal identifies one entity force-rejected by the expiry sweep.
type SweptProposal struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}
