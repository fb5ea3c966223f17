package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"arbor/api/internal/contentrepo"
	"arbor/api/internal/rbac"
	"arbor/api/internal/search"
	"arbor/api/internal/store"
	"arbor/api/internal/util"
	"arbor/api/internal/voting"
)

type PostInput struct {
	DomainID         string   `json:"domainId"`
	Title            string   `json:"title"`
	Content          string   `json:"content"`
	RelatedDomainIDs []string `json:"relatedDomainIds"`
	OriginalPostID   string   `json:"originalPostId"`
}

// PostDecision is what a cast vote did to the post.
type PostDecision struct {
	Post   store.Post
	Result voting.Result
}

func (s *Service) CreatePost(ctx context.Context, session Session, in PostInput) (store.Post, error) {
	if !s.Can(session.Role, rbac.ActionCreatePost) {
		return store.Post{}, apiError(http.StatusForbidden, "FORBIDDEN", "not allowed to create posts", nil)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return store.Post{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "title is required", nil)
	}
	if _, err := s.store.GetDomain(ctx, in.DomainID); err != nil {
		if store.IsNotFound(err) {
			return store.Post{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "domain does not exist", nil)
		}
		return store.Post{}, err
	}

	post := store.Post{
		ID:               util.NewID("post"),
		Title:            title,
		Content:          in.Content,
		Status:           store.PostDraft,
		DomainID:         in.DomainID,
		AuthorID:         session.UserID,
		RelatedDomainIDs: in.RelatedDomainIDs,
	}
	if in.OriginalPostID != "" {
		original, err := s.store.GetPost(ctx, in.OriginalPostID)
		if err != nil {
			if store.IsNotFound(err) {
				return store.Post{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "original post does not exist", nil)
			}
			return store.Post{}, err
		}
		// Revisions of revisions collapse onto the lineage root.
		lineage := original.ID
		if original.OriginalPostID != nil {
			lineage = *original.OriginalPostID
		}
		post.OriginalPostID = &lineage
	}

	if err := s.store.CreatePost(ctx, post); err != nil {
		return store.Post{}, fmt.Errorf("create post: %w", err)
	}
	if err := s.archive.EnsurePostRepo(post.ID, contentrepo.Content{Title: post.Title, Body: post.Content}, session.UserName); err != nil {
		return store.Post{}, fmt.Errorf("init post archive: %w", err)
	}
	return s.store.GetPost(ctx, post.ID)
}

func (s *Service) GetPost(ctx context.Context, postID string) (store.Post, error) {
	return s.store.GetPost(ctx, postID)
}

func (s *Service) ListDomainPosts(ctx context.Context, domainID string) ([]store.Post, error) {
	if _, err := s.store.GetDomain(ctx, domainID); err != nil {
		return nil, err
	}
	return s.store.ListDomainPosts(ctx, domainID)
}

func (s *Service) ListPostVotes(ctx context.Context, postID string) ([]store.ScoreVote, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	return s.store.ListPostVotes(ctx, postID)
}

func (s *Service) UpdatePost(ctx context.Context, session Session, postID, title, content string) (store.Post, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return store.Post{}, err
	}
	if post.AuthorID != session.UserID && rbac.Normalize(session.Role) != rbac.RoleAdmin {
		return store.Post{}, apiError(http.StatusForbidden, "FORBIDDEN", "only the author can edit a draft", nil)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Post{}, apiError(http.StatusUnprocessableEntity, "VALIDATION", "title is required", nil)
	}

	ok, err := s.store.UpdatePostContent(ctx, postID, title, content)
	if err != nil {
		return store.Post{}, err
	}
	if !ok {
		return store.Post{}, apiError(http.StatusConflict, "NOT_EDITABLE", "only drafts can be edited", map[string]any{"status": post.Status})
	}
	return s.store.GetPost(ctx, postID)
}

// SubmitPost moves a draft into the voting queue and commits the submitted
// content to the post's archive.
func (s *Service) SubmitPost(ctx context.Context, session Session, postID string) (store.Post, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return store.Post{}, err
	}
	if post.AuthorID != session.UserID && rbac.Normalize(session.Role) != rbac.RoleAdmin {
		return store.Post{}, apiError(http.StatusForbidden, "FORBIDDEN", "only the author can submit a draft", nil)
	}

	ok, err := s.store.SubmitPost(ctx, postID)
	if err != nil {
		return store.Post{}, err
	}
	if !ok {
		return store.Post{}, apiError(http.StatusConflict, "NOT_SUBMITTABLE", "only drafts can be submitted", map[string]any{"status": post.Status})
	}

	post, err = s.store.GetPost(ctx, postID)
	if err != nil {
		return store.Post{}, err
	}
	if _, err := s.archive.CommitRevision(
		postID,
		contentrepo.Content{Title: post.Title, Body: post.Content},
		session.UserName,
		fmt.Sprintf("Submit revision %d", post.RevisionNumber),
	); err != nil {
		return store.Post{}, fmt.Errorf("archive submission: %w", err)
	}

	s.indexPost(post)
	return post, nil
}

// postVoteWeight resolves the caller's best DIRECT weight across the
// governing domain and the post's related domains. Experts of a secondary
// domain vote with the weight their own domain's share tables give them.
// Returns the domain that contributed the winning weight, which is what
// gets recorded on the ballot.
func (s *Service) postVoteWeight(ctx context.Context, session Session, post store.Post) (float64, string, error) {
	best, err := s.UserVotingWeight(ctx, session.UserID, session.Role, post.DomainID, voting.ModeDirect, "")
	if err != nil {
		return 0, "", err
	}
	domainID := post.DomainID
	for _, related := range post.RelatedDomainIDs {
		weight, err := s.UserVotingWeight(ctx, session.UserID, "", related, voting.ModeDirect, "")
		if err != nil {
			return 0, "", err
		}
		if weight > best {
			best, domainID = weight, related
		}
	}
	return best, domainID, nil
}

// VotePost casts a weighted score and immediately re-runs the quorum.
// Approval archives the previously approved sibling, assigns the next
// global version and tags it in the archive; a met quorum with a middling
// score parks the post as REVIEWABLE.
func (s *Service) VotePost(ctx context.Context, session Session, postID string, score int) (PostDecision, error) {
	if !voting.ValidScore(score) {
		return PostDecision{}, apiError(http.StatusUnprocessableEntity, "VALIDATION",
			fmt.Sprintf("score must be between %d and %d", voting.MinScore, voting.MaxScore), nil)
	}

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return PostDecision{}, err
	}
	if post.Status != store.PostPending && post.Status != store.PostReviewable {
		return PostDecision{}, apiError(http.StatusConflict, "NOT_VOTABLE", "post is not open for voting", map[string]any{"status": post.Status})
	}

	weight, voteDomain, err := s.postVoteWeight(ctx, session, post)
	if err != nil {
		return PostDecision{}, err
	}
	if weight <= 0 {
		return PostDecision{}, apiError(http.StatusForbidden, "NO_VOTING_RIGHTS", "no voting rights in this domain", nil)
	}

	vote := store.ScoreVote{
		SubjectID:     postID,
		VoterID:       session.UserID,
		DomainID:      voteDomain,
		Score:         score,
		Weight:        weight,
		WeightedScore: voting.WeightedScore(score, weight),
	}
	if err := s.store.UpsertPostVote(ctx, vote); err != nil {
		return PostDecision{}, err
	}

	votes, err := s.store.ListPostVotes(ctx, postID)
	if err != nil {
		return PostDecision{}, err
	}
	result, err := s.CheckScoreApproval(ctx, post.DomainID, votes, ApprovalOptions{
		Mode:             voting.ModeDirect,
		RelatedDomainIDs: post.RelatedDomainIDs,
	})
	if err != nil {
		return PostDecision{}, err
	}

	switch {
	case result.Approved():
		version, ok, err := s.store.ApprovePostTx(ctx, postID)
		if err != nil {
			return PostDecision{}, err
		}
		if ok {
			if _, head, err := s.archive.GetHeadContent(postID); err == nil {
				_ = s.archive.TagVersion(postID, head.Hash, fmt.Sprintf("v%d", version))
			}
		}
	case result.Rejected():
		if _, err := s.store.SetPostStatus(ctx, postID, post.Status, store.PostRejected); err != nil {
			return PostDecision{}, err
		}
	default:
		if quorumMet(result) && post.Status == store.PostPending {
			if _, err := s.store.SetPostStatus(ctx, postID, store.PostPending, store.PostReviewable); err != nil {
				return PostDecision{}, err
			}
		}
	}

	post, err = s.store.GetPost(ctx, postID)
	if err != nil {
		return PostDecision{}, err
	}
	s.indexPost(post)
	return PostDecision{Post: post, Result: result}, nil
}

// PostHistory lists the post's archive commits, newest first.
func (s *Service) PostHistory(ctx context.Context, postID string, limit int) ([]store.CommitInfo, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	return s.archive.History(postID, limit)
}

// PostContentAt resolves a past revision by commit hash (full or short).
func (s *Service) PostContentAt(ctx context.Context, postID, hash string) (contentrepo.Content, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return contentrepo.Content{}, err
	}
	return s.archive.GetContentByHash(postID, hash)
}

func (s *Service) indexPost(post store.Post) {
	if s.search == nil {
		return
	}
	s.search.IndexPost(search.PostRecord{
		ID:       post.ID,
		Title:    post.Title,
		Content:  post.Content,
		DomainID: post.DomainID,
		Status:   post.Status,
	})
}
