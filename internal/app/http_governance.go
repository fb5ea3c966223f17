package app

import (
	"net/http"
	"strconv"
)

// route dispatches everything behind the session wall. parts is the path
// split on "/", starting with "api".
func (s *HTTPServer) route(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
		return
	}

	switch parts[1] {
	case "search":
		s.handleSearch(w, r)
	case "domains":
		s.routeDomains(w, r, session, parts[2:])
	case "posts":
		s.routePosts(w, r, session, parts[2:])
	case "exchanges":
		s.routeExchanges(w, r, session, parts[2:])
	case "investments":
		s.routeInvestments(w, r, session, parts[2:])
	case "rounds":
		s.routeRounds(w, r, session, parts[2:])
	case "candidacies":
		s.routeCandidacies(w, r, session, parts[2:])
	case "courses":
		s.routeCourses(w, r, session, parts[2:])
	case "chapters":
		s.routeChapters(w, r, session, parts[2:])
	case "prerequisites":
		s.routePrerequisites(w, r, session, parts[2:])
	case "admin":
		s.routeAdmin(w, r, session, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
		return
	}
	q := r.URL.Query()
	limit, ok := parseIntParam(w, q.Get("limit"), 20)
	if !ok {
		return
	}
	offset, ok := parseIntParam(w, q.Get("offset"), 0)
	if !ok {
		return
	}
	resp, err := s.service.Search(r.Context(), q.Get("q"), q.Get("type"), q.Get("domainId"), limit, offset)
	if err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) routeDomains(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		tree, err := s.service.GetDomainTree(r.Context())
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"domains": domainNodesPayload(tree)})

	case len(rest) == 0 && r.Method == http.MethodPost:
		var in DomainInput
		if !decodeBody(w, r, &in) {
			return
		}
		domain, err := s.service.CreateDomain(r.Context(), session, in)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, domain)

	case len(rest) == 1 && r.Method == http.MethodGet:
		domain, err := s.service.GetDomain(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		experts, err := s.service.ListDomainExperts(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "experts": experts})

	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteDomain(r.Context(), session, rest[0]); err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})

	case len(rest) == 2 && rest[1] == "shares" && r.Method == http.MethodGet:
		wing := r.URL.Query().Get("wing")
		shares, err := s.service.DomainVotingShares(r.Context(), rest[0], wing)
		if err != nil {
			s.mapError(w, err)
			return
		}
		available, err := s.service.AvailableVotingPower(r.Context(), rest[0], wing)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shares": shares, "available": available})

	case len(rest) == 2 && rest[1] == "experts" && r.Method == http.MethodGet:
		experts, err := s.service.ListDomainExperts(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"experts": experts})

	case len(rest) == 2 && rest[1] == "experts" && r.Method == http.MethodPost:
		var in ExpertInput
		if !decodeBody(w, r, &in) {
			return
		}
		if err := s.service.UpsertExpert(r.Context(), session, rest[0], in); err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assigned": true})

	case len(rest) == 3 && rest[1] == "experts" && r.Method == http.MethodDelete:
		if err := s.service.RemoveExpert(r.Context(), session, rest[0], rest[2]); err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": true})

	case len(rest) == 2 && rest[1] == "posts" && r.Method == http.MethodGet:
		posts, err := s.service.ListDomainPosts(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"posts": posts})

	case len(rest) == 2 && rest[1] == "courses" && r.Method == http.MethodGet:
		courses, err := s.service.ListDomainCourses(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"courses": courses})

	case len(rest) == 2 && rest[1] == "rounds" && r.Method == http.MethodGet:
		rounds, err := s.service.ListDomainRounds(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rounds": rounds})

	case len(rest) == 2 && rest[1] == "rounds" && r.Method == http.MethodPost:
		var in struct {
			Wing string `json:"wing"`
		}
		if !decodeBody(w, r, &in) {
			return
		}
		round, err := s.service.OpenElectionRound(r.Context(), session, rest[0], in.Wing)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, round)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func domainNodesPayload(nodes []*DomainNode) []map[string]any {
	out := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, map[string]any{
			"domain":   node.Domain,
			"children": domainNodesPayload(node.Children),
		})
	}
	return out
}

func (s *HTTPServer) routePosts(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var in PostInput
		if !decodeBody(w, r, &in) {
			return
		}
		post, err := s.service.CreatePost(r.Context(), session, in)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, post)

	case len(rest) == 1 && r.Method == http.MethodGet:
		post, err := s.service.GetPost(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, post)

	case len(rest) == 1 && r.Method == http.MethodPut:
		var in struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if !decodeBody(w, r, &in) {
			return
		}
		post, err := s.service.UpdatePost(r.Context(), session, rest[0], in.Title, in.Content)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, post)

	case len(rest) == 2 && rest[1] == "submit" && r.Method == http.MethodPost:
		post, err := s.service.SubmitPost(r.Context(), session, rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, post)

	case len(rest) == 2 && rest[1] == "votes" && r.Method == http.MethodGet:
		votes, err := s.service.ListPostVotes(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"votes": votes})

	case len(rest) == 2 && rest[1] == "votes" && r.Method == http.MethodPost:
		var in struct {
			Score int `json:"score"`
		}
		if !decodeBody(w, r, &in) {
			return
		}
		decision, err := s.service.VotePost(r.Context(), session, rest[0], in.Score)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"post":    decision.Post,
			"outcome": decision.Result.Outcome.String(),
		})

	case len(rest) == 2 && rest[1] == "history" && r.Method == http.MethodGet:
		limit, ok := parseIntParam(w, r.URL.Query().Get("limit"), 50)
		if !ok {
			return
		}
		history, err := s.service.PostHistory(r.Context(), rest[0], limit)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": history})

	case len(rest) == 3 && rest[1] == "history" && r.Method == http.MethodGet:
		content, err := s.service.PostContentAt(r.Context(), rest[0], rest[2])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, content)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

type transferVoteBody struct {
	DomainID string `json:"domainId"`
	Approve  bool   `json:"approve"`
}

func (s *HTTPServer) routeExchanges(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var in TransferInput
		if !decodeBody(w, r, &in) {
			return
		}
		proposal, err := s.service.ProposeExchange(r.Context(), session, in)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, proposal)

	case len(rest) == 1 && r.Method == http.MethodGet:
		proposal, err := s.service.GetExchangeProposal(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, proposal)

	case len(rest) == 2 && rest[1] == "votes" && r.Method == http.MethodPost:
		var in transferVoteBody
		if !decodeBody(w, r, &in) {
			return
		}
		decision, err := s.service.VoteExchange(r.Context(), session, rest[0], in.DomainID, in.Approve)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, transferDecisionPayload(decision))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func (s *HTTPServer) routeInvestments(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var in TransferInput
		if !decodeBody(w, r, &in) {
			return
		}
		investment, err := s.service.ProposeInvestment(r.Context(), session, in)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, investment)

	case len(rest) == 1 && r.Method == http.MethodGet:
		investment, err := s.service.GetInvestment(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, investment)

	case len(rest) == 2 && rest[1] == "votes" && r.Method == http.MethodPost:
		var in transferVoteBody
		if !decodeBody(w, r, &in) {
			return
		}
		decision, err := s.service.VoteInvestment(r.Context(), session, rest[0], in.DomainID, in.Approve)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, transferDecisionPayload(decision))

	case len(rest) == 2 && rest[1] == "terminate" && r.Method == http.MethodPost:
		investment, err := s.service.ForceTerminateInvestment(r.Context(), session, rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, investment)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func transferDecisionPayload(d TransferDecision) map[string]any {
	side := func(t sideTally) map[string]any {
		return map[string]any{
			"domainId":   t.Side.DomainID,
			"wing":       t.Side.Wing,
			"experts":    t.Experts,
			"approvals":  t.Approvals,
			"rejections": t.Rejections,
			"threshold":  t.Threshold,
		}
	}
	return map[string]any{
		"status":   d.Status,
		"proposer": side(d.Proposer),
		"target":   side(d.Target),
	}
}

func (s *HTTPServer) routeRounds(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 1 && r.Method == http.MethodGet:
		round, err := s.service.GetElectionRound(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, round)

	case len(rest) == 2 && rest[1] == "candidacies" && r.Method == http.MethodGet:
		candidacies, err := s.service.ListRoundCandidacies(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"candidacies": candidacies})

	case len(rest) == 2 && rest[1] == "advance" && r.Method == http.MethodPost:
		round, err := s.service.AdvanceRound(r.Context(), session, rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, round)

	case len(rest) == 2 && rest[1] == "close" && r.Method == http.MethodPost:
		candidacies, err := s.service.CloseElectionRound(r.Context(), session, rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"closed": true, "candidacies": candidacies})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func (s *HTTPServer) routeCandidacies(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var in CandidacyInput
		if !decodeBody(w, r, &in) {
			return
		}
		candidacy, err := s.service.SubmitCandidacy(r.Context(), session, in)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, candidacy)

	case len(rest) == 1 && r.Method == http.MethodGet:
		candidacy, err := s.service.GetCandidacy(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, candidacy)

	case len(rest) == 2 && rest[1] == "votes" && r.Method == http.MethodGet:
		votes, err := s.service.ListCandidacyVotes(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"votes": votes})

	case len(rest) == 2 && rest[1] == "votes" && r.Method == http.MethodPost:
		var in struct {
			Score int `json:"score"`
		}
		if !decodeBody(w, r, &in) {
			return
		}
		candidacy, err := s.service.VoteCandidacy(r.Context(), session, rest[0], in.Score)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, candidacy)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func (s *HTTPServer) routeCourses(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var in CourseInput
		if !decodeBody(w, r, &in) {
			return
		}
		course, err := s.service.CreateCourse(r.Context(), session, in)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, course)

	case len(rest) == 1 && r.Method == http.MethodGet:
		course, err := s.service.GetCourse(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, course)

	case len(rest) == 2 && rest[1] == "votes" && r.Method == http.MethodPost:
		var in struct {
			Score int `json:"score"`
		}
		if !decodeBody(w, r, &in) {
			return
		}
		course, result, err := s.service.VoteCourse(r.Context(), session, rest[0], in.Score)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"course": course, "outcome": result.Outcome.String()})

	case len(rest) == 2 && rest[1] == "chapters" && r.Method == http.MethodGet:
		chapters, err := s.service.ListCourseChapters(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chapters": chapters})

	case len(rest) == 2 && rest[1] == "chapters" && r.Method == http.MethodPost:
		var in ChapterInput
		if !decodeBody(w, r, &in) {
			return
		}
		chapter, err := s.service.CreateChapter(r.Context(), session, rest[0], in)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, chapter)

	case len(rest) == 2 && rest[1] == "prerequisites" && r.Method == http.MethodGet:
		prereqs, err := s.service.ListCoursePrerequisites(r.Context(), rest[0])
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"prerequisites": prereqs})

	case len(rest) == 2 && rest[1] == "prerequisites" && r.Method == http.MethodPost:
		var in PrerequisiteInput
		if !decodeBody(w, r, &in) {
			return
		}
		prereq, err := s.service.ProposePrerequisite(r.Context(), session, rest[0], in)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, prereq)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func (s *HTTPServer) routeChapters(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 2 && rest[1] == "votes" && r.Method == http.MethodPost:
		var in struct {
			Score int `json:"score"`
		}
		if !decodeBody(w, r, &in) {
			return
		}
		chapter, result, err := s.service.VoteChapter(r.Context(), session, rest[0], in.Score)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chapter": chapter, "outcome": result.Outcome.String()})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func (s *HTTPServer) routePrerequisites(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 2 && rest[1] == "votes" && r.Method == http.MethodPost:
		var in struct {
			Score int `json:"score"`
		}
		if !decodeBody(w, r, &in) {
			return
		}
		prereq, result, err := s.service.VotePrerequisite(r.Context(), session, rest[0], in.Score)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"prerequisite": prereq, "outcome": result.Outcome.String()})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func (s *HTTPServer) routeAdmin(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 1 && rest[0] == "sweep" && r.Method == http.MethodPost:
		report, err := s.service.RunSweep(r.Context(), session)
		if err != nil {
			s.mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func parseIntParam(w http.ResponseWriter, raw string, fallback int) (int, bool) {
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION", "limit and offset must be non-negative integers", nil)
		return 0, false
	}
	return n, true
}
