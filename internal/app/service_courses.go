package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"arbor/api/internal/search"
	"arbor/api/internal/store"
	"arbor/api/internal/util"
	"arbor/api/internal/voting"
)

type CourseInput struct {
	DomainID    string `json:"domainId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Service) CreateCourse(ctx context.Context, session Session, in CourseInput) (store.Course, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return store.Course{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "title is required", nil)
	}
	if _, err := s.store.GetDomain(ctx, in.DomainID); err != nil {
		if store.IsNotFound(err) {
			return store.Course{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "domain does not exist", nil)
		}
		return store.Course{}, err
	}

	course := store.Course{
		ID:          util.NewID("crs"),
		DomainID:    in.DomainID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Status:      store.PostPending,
	}
	if err := s.store.CreateCourse(ctx, course); err != nil {
		return store.Course{}, fmt.Errorf("create course: %w", err)
	}
	s.indexCourse(course)
	return s.store.GetCourse(ctx, course.ID)
}

func (s *Service) indexCourse(course store.Course) {
	if s.search == nil {
		return
	}
	s.search.IndexCourse(search.CourseRecord{
		ID:          course.ID,
		Title:       course.Title,
		Description: course.Description,
		DomainID:    course.DomainID,
		Status:      course.Status,
	})
}

func (s *Service) GetCourse(ctx context.Context, courseID string) (store.Course, error) {
	return s.store.GetCourse(ctx, courseID)
}

func (s *Service) ListDomainCourses(ctx context.Context, domainID string) ([]store.Course, error) {
	if _, err := s.store.GetDomain(ctx, domainID); err != nil {
		return nil, err
	}
	return s.store.ListDomainCourses(ctx, domainID)
}

// VoteCourse scores a pending course; the shared quorum decides it.
func (s *Service) VoteCourse(ctx context.Context, session Session, courseID string, score int) (store.Course, voting.Result, error) {
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return store.Course{}, voting.Result{}, err
	}
	if course.Status != store.PostPending {
		return store.Course{}, voting.Result{}, apiError(http.StatusConflict, "NOT_VOTABLE", "course is not open for voting", map[string]any{"status": course.Status})
	}

	vote, err := s.castScoreVote(ctx, session, courseID, course.DomainID, score)
	if err != nil {
		return store.Course{}, voting.Result{}, err
	}
	if err := s.store.UpsertCourseVote(ctx, vote); err != nil {
		return store.Course{}, voting.Result{}, err
	}

	votes, err := s.store.ListCourseVotes(ctx, courseID)
	if err != nil {
		return store.Course{}, voting.Result{}, err
	}
	result, err := s.CheckScoreApproval(ctx, course.DomainID, votes, ApprovalOptions{Mode: voting.ModeDirect})
	if err != nil {
		return store.Course{}, voting.Result{}, err
	}
	if result.Approved() {
		_, err = s.store.SetCourseStatus(ctx, courseID, store.PostPending, store.PostApproved)
	} else if result.Rejected() {
		_, err = s.store.SetCourseStatus(ctx, courseID, store.PostPending, store.PostRejected)
	}
	if err != nil {
		return store.Course{}, voting.Result{}, err
	}

	course, err = s.store.GetCourse(ctx, courseID)
	if err != nil {
		return store.Course{}, voting.Result{}, err
	}
	s.indexCourse(course)
	return course, result, nil
}

type ChapterInput struct {
	Title    string `json:"title"`
	Position int    `json:"position"`
}

func (s *Service) CreateChapter(ctx context.Context, session Session, courseID string, in ChapterInput) (store.Chapter, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return store.Chapter{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "title is required", nil)
	}
	if _, err := s.store.GetCourse(ctx, courseID); err != nil {
		return store.Chapter{}, err
	}

	chapter := store.Chapter{
		ID:       util.NewID("chp"),
		CourseID: courseID,
		Title:    title,
		Position: in.Position,
		Status:   store.PostPending,
	}
	if err := s.store.CreateChapter(ctx, chapter); err != nil {
		return store.Chapter{}, fmt.Errorf("create chapter: %w", err)
	}
	return s.store.GetChapter(ctx, chapter.ID)
}

func (s *Service) ListCourseChapters(ctx context.Context, courseID string) ([]store.Chapter, error) {
	if _, err := s.store.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return s.store.ListCourseChapters(ctx, courseID)
}

// VoteChapter scores a chapter; the quorum runs over the course's domain.
func (s *Service) VoteChapter(ctx context.Context, session Session, chapterID string, score int) (store.Chapter, voting.Result, error) {
	chapter, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return store.Chapter{}, voting.Result{}, err
	}
	if chapter.Status != store.PostPending {
		return store.Chapter{}, voting.Result{}, apiError(http.StatusConflict, "NOT_VOTABLE", "chapter is not open for voting", map[string]any{"status": chapter.Status})
	}
	course, err := s.store.GetCourse(ctx, chapter.CourseID)
	if err != nil {
		return store.Chapter{}, voting.Result{}, err
	}

	vote, err := s.castScoreVote(ctx, session, chapterID, course.DomainID, score)
	if err != nil {
		return store.Chapter{}, voting.Result{}, err
	}
	if err := s.store.UpsertChapterVote(ctx, vote); err != nil {
		return store.Chapter{}, voting.Result{}, err
	}

	votes, err := s.store.ListChapterVotes(ctx, chapterID)
	if err != nil {
		return store.Chapter{}, voting.Result{}, err
	}
	result, err := s.CheckScoreApproval(ctx, course.DomainID, votes, ApprovalOptions{Mode: voting.ModeDirect})
	if err != nil {
		return store.Chapter{}, voting.Result{}, err
	}
	if result.Approved() {
		_, err = s.store.SetChapterStatus(ctx, chapterID, store.PostPending, store.PostApproved)
	} else if result.Rejected() {
		_, err = s.store.SetChapterStatus(ctx, chapterID, store.PostPending, store.PostRejected)
	}
	if err != nil {
		return store.Chapter{}, voting.Result{}, err
	}

	chapter, err = s.store.GetChapter(ctx, chapterID)
	return chapter, result, err
}

type PrerequisiteInput struct {
	PrereqCourseID string `json:"prereqCourseId"`
	Kind           string `json:"kind"`
}

// ProposePrerequisite links a prerequisite onto a course. Course-to-course
// links are checked against the existing graph so no approval can ever
// complete a cycle.
func (s *Service) ProposePrerequisite(ctx context.Context, session Session, courseID string, in PrerequisiteInput) (store.Prerequisite, error) {
	kind := strings.ToUpper(strings.TrimSpace(in.Kind))
	switch kind {
	case store.PrereqCourse, store.PrereqResearch, store.PrereqDomain:
	default:
		return store.Prerequisite{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "unknown prerequisite kind", nil)
	}
	if _, err := s.store.GetCourse(ctx, courseID); err != nil {
		return store.Prerequisite{}, err
	}

	if kind == store.PrereqCourse {
		if in.PrereqCourseID == "" {
			return store.Prerequisite{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "prereqCourseId is required for course prerequisites", nil)
		}
		if in.PrereqCourseID == courseID {
			return store.Prerequisite{}, apiError(http.StatusConflict, "CIRCULAR_DEPENDENCY", "a course cannot require itself", nil)
		}
		if _, err := s.store.GetCourse(ctx, in.PrereqCourseID); err != nil {
			if store.IsNotFound(err) {
				return store.Prerequisite{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "prerequisite course does not exist", nil)
			}
			return store.Prerequisite{}, err
		}
		circular, err := s.causesCircularDependency(ctx, courseID, in.PrereqCourseID)
		if err != nil {
			return store.Prerequisite{}, err
		}
		if circular {
			return store.Prerequisite{}, apiError(http.StatusConflict, "CIRCULAR_DEPENDENCY", "prerequisite would create a cycle", nil)
		}
	}

	prereq := store.Prerequisite{
		ID:             util.NewID("pre"),
		CourseID:       courseID,
		PrereqCourseID: in.PrereqCourseID,
		Kind:           kind,
	}
	if err := s.store.CreatePrerequisite(ctx, prereq); err != nil {
		return store.Prerequisite{}, fmt.Errorf("propose prerequisite: %w", err)
	}
	return s.store.GetPrerequisite(ctx, prereq.ID)
}

// causesCircularDependency walks the pending-or-approved prerequisite
// graph from the proposed prerequisite looking for a path back to the
// course.
func (s *Service) causesCircularDependency(ctx context.Context, courseID, prereqCourseID string) (bool, error) {
	edges, err := s.store.ListCoursePrereqEdges(ctx)
	if err != nil {
		return false, err
	}
	requires := make(map[string][]string, len(edges))
	for _, edge := range edges {
		requires[edge[0]] = append(requires[edge[0]], edge[1])
	}

	seen := map[string]bool{prereqCourseID: true}
	stack := []string{prereqCourseID}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == courseID {
			return true, nil
		}
		for _, next := range requires[current] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false, nil
}

// ListCoursePrerequisites sweeps stale pending proposals first so readers
// never see rows that should already have timed out.
func (s *Service) ListCoursePrerequisites(ctx context.Context, courseID string) ([]store.Prerequisite, error) {
	if _, err := s.store.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	if _, err := s.RejectExpiredProposals(ctx); err != nil {
		return nil, err
	}
	return s.store.ListCoursePrerequisites(ctx, courseID)
}

// VotePrerequisite scores a pending prerequisite link.
func (s *Service) VotePrerequisite(ctx context.Context, session Session, prereqID string, score int) (store.Prerequisite, voting.Result, error) {
	prereq, err := s.store.GetPrerequisite(ctx, prereqID)
	if err != nil {
		return store.Prerequisite{}, voting.Result{}, err
	}
	if prereq.Status != store.ProposalPending {
		return store.Prerequisite{}, voting.Result{}, apiError(http.StatusConflict, "NOT_VOTABLE", "prerequisite is not open for voting", map[string]any{"status": prereq.Status})
	}
	course, err := s.store.GetCourse(ctx, prereq.CourseID)
	if err != nil {
		return store.Prerequisite{}, voting.Result{}, err
	}

	vote, err := s.castScoreVote(ctx, session, prereqID, course.DomainID, score)
	if err != nil {
		return store.Prerequisite{}, voting.Result{}, err
	}
	if err := s.store.UpsertPrerequisiteVote(ctx, vote); err != nil {
		return store.Prerequisite{}, voting.Result{}, err
	}

	votes, err := s.store.ListPrerequisiteVotes(ctx, prereqID)
	if err != nil {
		return store.Prerequisite{}, voting.Result{}, err
	}
	result, err := s.CheckScoreApproval(ctx, course.DomainID, votes, ApprovalOptions{Mode: voting.ModeDirect})
	if err != nil {
		return store.Prerequisite{}, voting.Result{}, err
	}
	switch {
	case result.Approved():
		// The graph may have gained edges since the proposal was checked.
		if prereq.Kind == store.PrereqCourse {
			circular, err := s.causesCircularDependency(ctx, prereq.CourseID, prereq.PrereqCourseID)
			if err != nil {
				return store.Prerequisite{}, voting.Result{}, err
			}
			if circular {
				if _, err := s.store.SetPrerequisiteStatus(ctx, prereqID, store.ProposalRejected); err != nil {
					return store.Prerequisite{}, voting.Result{}, err
				}
				break
			}
		}
		if _, err := s.store.SetPrerequisiteStatus(ctx, prereqID, store.PostApproved); err != nil {
			return store.Prerequisite{}, voting.Result{}, err
		}
	case result.Rejected():
		if _, err := s.store.SetPrerequisiteStatus(ctx, prereqID, store.ProposalRejected); err != nil {
			return store.Prerequisite{}, voting.Result{}, err
		}
	}

	prereq, err = s.store.GetPrerequisite(ctx, prereqID)
	return prereq, result, err
}

// castScoreVote validates the raw score and resolves the voter's weight,
// producing a storable ballot.
func (s *Service) castScoreVote(ctx context.Context, session Session, subjectID, domainID string, score int) (store.ScoreVote, error) {
	if !voting.ValidScore(score) {
		return store.ScoreVote{}, apiError(http.StatusUnprocessableEntity, "VALIDATION",
			fmt.Sprintf("score must be between %d and %d", voting.MinScore, voting.MaxScore), nil)
	}
	weight, err := s.UserVotingWeight(ctx, session.UserID, session.Role, domainID, voting.ModeDirect, "")
	if err != nil {
		return store.ScoreVote{}, err
	}
	if weight <= 0 {
		return store.ScoreVote{}, apiError(http.StatusForbidden, "NO_VOTING_RIGHTS", "no voting rights in this domain", nil)
	}
	return store.ScoreVote{
		SubjectID:     subjectID,
		VoterID:       session.UserID,
		DomainID:      domainID,
		Score:         score,
		Weight:        weight,
		WeightedScore: voting.WeightedScore(score, weight),
	}, nil
}
