package reviewcomment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghclient "github.com/nathantilsley/machine-sentry/internal/visualize/adapters/gh_client"
	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	return New(&ghclient.StaticProvider{Client: client})
}

func TestAdapter_CreateReviewComment(t *testing.T) {
	var got map[string]any
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/octo/app/pulls/7/comments", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	})

	err := adapter.CreateReviewComment(context.Background(), 1, domain.ReviewComment{
		Owner:    "octo",
		Repo:     "app",
		PRNumber: 7,
		CommitID: "head-sha",
		Path:     "a.ts",
		Line:     11,
		Body:     "Here's your state machine:",
	})
	require.NoError(t, err)

	assert.Equal(t, "head-sha", got["commit_id"])
	assert.Equal(t, "a.ts", got["path"])
	assert.EqualValues(t, 11, got["line"])
	assert.Equal(t, "RIGHT", got["side"])
	assert.Equal(t, "Here's your state machine:", got["body"])
}

func TestAdapter_CreateReviewComment_Error(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Validation Failed"}`))
	})

	err := adapter.CreateReviewComment(context.Background(), 1, domain.ReviewComment{Owner: "o", Repo: "r", PRNumber: 1, Path: "a.ts", Line: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.ts:3")
}
