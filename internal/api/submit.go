package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"oape-orchestrator/internal/jobs"
	"oape-orchestrator/internal/models"
	"oape-orchestrator/internal/repos"
	"oape-orchestrator/internal/telemetry"
)

var epURLPattern = regexp.MustCompile(`^https://github\.com/openshift/enhancements/pull/\d+/?$`)

// ValidEPURL reports whether raw names an openshift/enhancements pull request.
// Trailing slashes are ignored.
func ValidEPURL(raw string) bool {
	return epURLPattern.MatchString(strings.TrimRight(strings.TrimSpace(raw), "/"))
}

type submitRequest struct {
	EPURL         string `json:"ep_url"`
	Mode          string `json:"mode"`
	RepoURL       string `json:"repo_url"`
	BaseBranch    string `json:"base_branch"`
	RepoShortName string `json:"repo_short_name"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

func decodeSubmit(r *http.Request) (submitRequest, error) {
	var req submitRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid json: %w", err)
		}
		return req, nil
	}
	req.EPURL = r.FormValue("ep_url")
	req.Mode = r.FormValue("mode")
	req.RepoURL = r.FormValue("repo_url")
	req.BaseBranch = r.FormValue("base_branch")
	req.RepoShortName = r.FormValue("repo_short_name")
	return req, nil
}

// submission validates req and fills in derived fields.
func (s *Server) submission(req submitRequest) (jobs.Submission, error) {
	sub := jobs.Submission{
		EPURL:         strings.TrimSpace(req.EPURL),
		Mode:          strings.TrimSpace(req.Mode),
		RepoURL:       strings.TrimSpace(req.RepoURL),
		BaseBranch:    strings.TrimSpace(req.BaseBranch),
		RepoShortName: strings.TrimSpace(req.RepoShortName),
	}
	if !ValidEPURL(sub.EPURL) {
		return sub, ErrInvalidEPURL
	}
	if sub.Mode == "" {
		sub.Mode = models.ModeWorkflow
	}
	if !s.launcher.Supports(sub.Mode) {
		return sub, fmt.Errorf("%w %q", ErrUnknownMode, sub.Mode)
	}
	if sub.Mode != models.ModePhased {
		return sub, nil
	}

	if sub.RepoURL == "" && sub.RepoShortName != "" && s.registry != nil {
		repo, err := s.registry.Resolve(sub.RepoShortName)
		if err == nil {
			sub.RepoURL = repo.URL
			sub.RepoShortName = repo.ShortName
			if sub.BaseBranch == "" {
				sub.BaseBranch = repo.BaseBranch
			}
		}
	}
	if sub.RepoURL == "" || sub.BaseBranch == "" {
		return sub, ErrMissingRepo
	}
	if sub.RepoShortName == "" {
		sub.RepoShortName = repos.ShortName(sub.RepoURL)
	}
	return sub, nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubmit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := s.submission(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.limiter != nil {
		d, err := s.limiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			s.logger.Printf("rate limit: %v", err)
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			if d.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())+1))
			}
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	job, _, err := s.launcher.Launch(s.jobCtx, sub)
	if err != nil {
		if errors.Is(err, jobs.ErrUnknownMode) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Printf("launch job: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to start job")
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{JobID: job.ID})
}
