package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/mend/internal/controller"
	"github.com/jordanhubbard/mend/internal/evaluator"
	"github.com/jordanhubbard/mend/internal/events"
	"github.com/jordanhubbard/mend/internal/executor"
	"github.com/jordanhubbard/mend/internal/generator"
	"github.com/jordanhubbard/mend/internal/learning"
	"github.com/jordanhubbard/mend/internal/patterns"
	"github.com/jordanhubbard/mend/internal/repository"
	"github.com/jordanhubbard/mend/pkg/models"
)

type metricsStub struct{}

func (metricsStub) Snapshot(context.Context) (models.SystemMetrics, error) {
	return models.SystemMetrics{CPU: 60}, nil
}

func newTestServer(t *testing.T, jwtSecret string) (*httptest.Server, *repository.Repository) {
	t.Helper()
	repo := repository.New()
	lib := patterns.NewLibrary(repo)
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	ctrl := controller.New(controller.Config{SystemID: "test", AutoExecThreshold: 0.99}, controller.Deps{
		Repo:    repo,
		Library: lib,
		Gen:     generator.New(lib),
		Eval:    evaluator.New(lib, repo),
		Exec:    executor.New(metricsStub{}, nil),
		Learn:   learning.New(repo, lib),
		Bus:     bus,
	})

	srv := httptest.NewServer(NewServer(ctrl, repo, bus, jwtSecret).SetupRoutes())
	t.Cleanup(srv.Close)
	return srv, repo
}

func postJSON(t *testing.T, url string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health controller.Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, 0, health.TotalChallenges)
}

func TestCreateAndFetchChallenge(t *testing.T) {
	srv, repo := newTestServer(t, "")

	resp := postJSON(t, srv.URL+"/api/v1/challenges", CreateChallengeRequest{
		Type:        "performance",
		Severity:    "high",
		Description: "cpu saturated in api pool",
		Context:     models.ChallengeContext{CPU: 92},
	}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var ch models.Challenge
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ch))
	assert.Equal(t, models.ChallengeStatusReady, ch.Status)
	assert.Equal(t, models.OriginManual, ch.Origin)
	assert.NotEmpty(t, ch.Solutions)

	get, err := http.Get(srv.URL + "/api/v1/challenges/" + ch.ID)
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)

	sols, err := http.Get(srv.URL + "/api/v1/challenges/" + ch.ID + "/solutions")
	require.NoError(t, err)
	defer sols.Body.Close()
	var list []*models.Solution
	require.NoError(t, json.NewDecoder(sols.Body).Decode(&list))
	assert.Len(t, list, len(repo.SolutionsByChallenge(ch.ID)))
}

func TestCreateChallenge_BadRequest(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp := postJSON(t, srv.URL+"/api/v1/challenges", CreateChallengeRequest{Description: ""}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChallengeNotFound(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/api/v1/challenges/ch-missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecuteChallenge(t *testing.T) {
	srv, repo := newTestServer(t, "")

	created := postJSON(t, srv.URL+"/api/v1/challenges", CreateChallengeRequest{
		Type:        "performance",
		Severity:    "high",
		Description: "cpu saturated in api pool",
		Context:     models.ChallengeContext{CPU: 92},
	}, nil)
	var ch models.Challenge
	require.NoError(t, json.NewDecoder(created.Body).Decode(&ch))
	created.Body.Close()

	resp := postJSON(t, srv.URL+"/api/v1/challenges/"+ch.ID+"/execute", ExecuteRequest{}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.Challenge
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Contains(t, []models.ChallengeStatus{models.ChallengeStatusResolved, models.ChallengeStatusFailed}, updated.Status)
	assert.Equal(t, 1, repo.LearningCount())

	// A second trigger on a finished challenge conflicts.
	again := postJSON(t, srv.URL+"/api/v1/challenges/"+ch.ID+"/execute", ExecuteRequest{}, nil)
	defer again.Body.Close()
	assert.Equal(t, http.StatusConflict, again.StatusCode)
}

func TestShareRequiresTarget(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp := postJSON(t, srv.URL+"/api/v1/share", ShareRequest{}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuth_MutationsNeedToken(t *testing.T) {
	srv, _ := newTestServer(t, "sekrit")

	// Reads stay open.
	resp, err := http.Get(srv.URL + "/api/v1/challenges")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Writes without a token are rejected.
	denied := postJSON(t, srv.URL+"/api/v1/challenges", CreateChallengeRequest{Description: "cpu high"}, nil)
	denied.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, denied.StatusCode)

	garbage := postJSON(t, srv.URL+"/api/v1/challenges", CreateChallengeRequest{Description: "cpu high"},
		map[string]string{"Authorization": "Bearer not-a-token"})
	garbage.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, garbage.StatusCode)

	// A token minted with the shared secret passes.
	token, err := NewAuth("sekrit").IssueToken("operator")
	require.NoError(t, err)
	ok := postJSON(t, srv.URL+"/api/v1/challenges", CreateChallengeRequest{
		Type:        "performance",
		Description: "cpu saturated in api pool",
		Context:     models.ChallengeContext{CPU: 92},
	}, map[string]string{"Authorization": "Bearer " + token})
	ok.Body.Close()
	assert.Equal(t, http.StatusCreated, ok.StatusCode)
}
