package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/rasterbench/internal/errors"
	"github.com/3leaps/rasterbench/pkg/output"
	"github.com/3leaps/rasterbench/pkg/results"
)

// VersionInfo is served by /version.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// VersionHandler serves static build information.
func VersionHandler(info VersionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, info)
	}
}

// OutcomeSource returns the outcomes recorded so far.
type OutcomeSource func() []results.Outcome

// OutcomesResponse is served by /outcomes and /outcomes/{job}.
type OutcomesResponse struct {
	Jobs     []string                `json:"jobs"`
	Count    int                     `json:"count"`
	Outcomes []*output.OutcomeRecord `json:"outcomes"`
}

func newOutcomesResponse(set *results.Set, outs []results.Outcome) OutcomesResponse {
	resp := OutcomesResponse{
		Jobs:     set.JobIDs(),
		Count:    len(outs),
		Outcomes: make([]*output.OutcomeRecord, 0, len(outs)),
	}
	for _, o := range outs {
		resp.Outcomes = append(resp.Outcomes, output.NewOutcomeRecord(o))
	}
	return resp
}

// OutcomesHandler lists every outcome recorded so far.
func OutcomesHandler(src OutcomeSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set := results.NewSet(src())
		writeJSON(w, http.StatusOK, newOutcomesResponse(set, set.Outcomes()))
	}
}

// JobOutcomesHandler lists the outcomes of the job named by the {job}
// path parameter.
func JobOutcomesHandler(src OutcomeSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := chi.URLParam(r, "job")
		set := results.NewSet(src())

		outs := set.ForJob(job)
		if len(outs) == 0 {
			respondWithError(w, r, fmt.Errorf("job %q: %w", job, apperrors.ErrNotFound))
			return
		}

		resp := newOutcomesResponse(set, outs)
		resp.Jobs = []string{job}
		writeJSON(w, http.StatusOK, resp)
	}
}
