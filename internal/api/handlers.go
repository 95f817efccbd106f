package api

import (
	"net/http"

	"github.com/jordanhubbard/mend/internal/controller"
	"github.com/jordanhubbard/mend/pkg/models"
)

// CreateChallengeRequest is the intake payload for manually reported
// challenges.
type CreateChallengeRequest struct {
	Type        string                  `json:"type,omitempty"`
	Severity    string                  `json:"severity,omitempty"`
	Description string                  `json:"description"`
	Context     models.ChallengeContext `json:"context,omitempty"`
}

// handleChallenges handles collection-level challenge requests
// GET /api/v1/challenges?status=xxx
// POST /api/v1/challenges
func (s *Server) handleChallenges(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := models.ChallengeStatus(r.URL.Query().Get("status"))
		s.respondJSON(w, http.StatusOK, s.repo.ListChallenges(status))

	case http.MethodPost:
		var req CreateChallengeRequest
		if err := s.parseJSON(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		id, err := s.ctrl.RecordChallenge(controller.ChallengeInput{
			Type:        models.ChallengeType(req.Type),
			Severity:    models.Severity(req.Severity),
			Description: req.Description,
			Context:     req.Context,
			Origin:      models.OriginManual,
		})
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		ch, err := s.repo.GetChallenge(id)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusCreated, ch)

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleChallenge handles single-challenge requests
// GET /api/v1/challenges/{id}
// GET /api/v1/challenges/{id}/solutions
// POST /api/v1/challenges/{id}/execute
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	id, action := s.extractID(r.URL.Path, "/api/v1/challenges")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Missing challenge id")
		return
	}

	ch, err := s.repo.GetChallenge(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "Challenge not found")
		return
	}

	switch {
	case r.Method == http.MethodGet && action == "":
		s.respondJSON(w, http.StatusOK, ch)

	case r.Method == http.MethodGet && action == "solutions":
		s.respondJSON(w, http.StatusOK, s.repo.SolutionsByChallenge(ch.ID))

	case r.Method == http.MethodPost && action == "execute":
		s.executeChallenge(w, r, ch)

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// ExecuteRequest optionally names the solution to run; the top-ranked one
// runs when omitted.
type ExecuteRequest struct {
	SolutionID string `json:"solution_id,omitempty"`
}

func (s *Server) executeChallenge(w http.ResponseWriter, r *http.Request, ch *models.Challenge) {
	var req ExecuteRequest
	if r.ContentLength > 0 {
		if err := s.parseJSON(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	}

	solutionID := req.SolutionID
	if solutionID == "" {
		if len(ch.Solutions) == 0 {
			s.respondError(w, http.StatusConflict, "Challenge has no candidate solutions")
			return
		}
		solutionID = ch.Solutions[0].ID
	}

	if err := s.ctrl.ExecuteSolution(r.Context(), ch.ID, solutionID); err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}

	updated, err := s.repo.GetChallenge(ch.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, updated)
}

// handleLearnings returns recorded learnings, newest last
// GET /api/v1/learnings
func (s *Server) handleLearnings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.repo.Learnings())
}

// handlePatterns returns the pattern library, best first
// GET /api/v1/patterns
func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.repo.Patterns())
}

// ShareRequest names the peer to send knowledge to.
type ShareRequest struct {
	Target string `json:"target"`
}

// handleShare triggers a knowledge transfer to a registered peer
// POST /api/v1/share
func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req ShareRequest
	if err := s.parseJSON(r, &req); err != nil || req.Target == "" {
		s.respondError(w, http.StatusBadRequest, "Missing target peer")
		return
	}
	if err := s.ctrl.ShareKnowledge(r.Context(), req.Target); err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "shared", "target": req.Target})
}
