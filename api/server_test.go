package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zipcase/zipcase"
	"github.com/zipcase/zipcase/alert"
	"github.com/zipcase/zipcase/export"
	"github.com/zipcase/zipcase/portal"
	"github.com/zipcase/zipcase/search"
	"github.com/zipcase/zipcase/session"
	"github.com/zipcase/zipcase/status"
	"github.com/zipcase/zipcase/zipcasetest"
)

var testSecret = []byte("test-secret")

func newServer(t *testing.T) (*Server, *zipcasetest.Fixture) {
	t.Helper()

	portalSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "s", Value: "tok"})
		w.Write([]byte("ok"))
	}))
	t.Cleanup(portalSrv.Close)

	f := zipcasetest.NewFixture(t)
	logger := logrus.StandardLogger()
	pc := portal.New(portalSrv.URL, portalSrv.URL, logger)
	auth := session.New(f.Store, pc, logger)
	alerter := alert.New(logger, nil, "alerts")

	srv := NewServer(
		f.Store,
		search.NewProcessor(f.Store, f.SearchQueue, auth, logger),
		status.NewChecker(f.Store, f.SearchQueue, alerter, logger),
		export.NewExporter(f.Store, logger),
		testSecret,
		logger,
	)
	return srv, f
}

func bearerToken(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func jsonRequest(t *testing.T, method, path, token string, body interface{}) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestRequiresAuth(t *testing.T) {
	srv, _ := newServer(t)

	for _, req := range []*http.Request{
		jsonRequest(t, "POST", "/search", "", map[string]string{"search": "25CR123456-789"}),
		jsonRequest(t, "POST", "/search", "not-a-token", map[string]string{"search": "25CR123456-789"}),
		jsonRequest(t, "GET", "/case/25CR123456-789", "", nil),
	} {
		resp, err := srv.App().Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var body errorResponse
		decode(t, resp, &body)
		assert.Equal(t, zipcase.MsgUnauthorized, body.Error)
	}
}

func TestSearchAccepted(t *testing.T) {
	srv, f := newServer(t)
	token := bearerToken(t, "user-1")

	resp, err := srv.App().Test(jsonRequest(t, "POST", "/search", token, map[string]string{
		"search": "check 25CR123456-789 please",
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body struct {
		Results map[string]zipcase.SearchResult `json:"results"`
	}
	decode(t, resp, &body)
	require.Contains(t, body.Results, "25CR123456-789")
	assert.Equal(t, zipcase.StatusQueued, body.Results["25CR123456-789"].ZipCase.FetchStatus.Status)

	n, err := f.SearchQueue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSearchRejectsMissingInput(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := srv.App().Test(jsonRequest(t, "POST", "/search", bearerToken(t, "user-1"), map[string]string{}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNameSearchRoundTrip(t *testing.T) {
	srv, f := newServer(t)
	token := bearerToken(t, "user-1")

	require.NoError(t, f.Store.SaveCredentials(context.Background(), "user-1", zipcase.PortalCredentials{
		Username: "jane@example.com", Password: "hunter2",
	}))

	resp, err := srv.App().Test(jsonRequest(t, "POST", "/name-search", token, map[string]interface{}{
		"name":         "Jane Doe",
		"dateOfBirth":  "1980-01-01",
		"criminalOnly": true,
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created struct {
		SearchID string                 `json:"searchId"`
		Results  map[string]interface{} `json:"results"`
		Success  bool                   `json:"success"`
	}
	decode(t, resp, &created)
	require.NotEmpty(t, created.SearchID)
	assert.True(t, created.Success)
	assert.NotNil(t, created.Results)
	assert.Empty(t, created.Results)

	resp, err = srv.App().Test(jsonRequest(t, "GET", "/name-search/"+created.SearchID, token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var polled struct {
		Status zipcase.Status `json:"status"`
	}
	decode(t, resp, &polled)
	assert.Equal(t, zipcase.StatusQueued, polled.Status)
}

func TestNameSearchUnparseableName(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := srv.App().Test(jsonRequest(t, "POST", "/name-search", bearerToken(t, "user-1"), map[string]string{
		"name": "   ",
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	decode(t, resp, &body)
	assert.False(t, body.Success)
	assert.Equal(t, "unparseable name", body.Error)
}

func TestNameSearchDropsUnusableDOB(t *testing.T) {
	// a date of birth the parser rejects is not an API error; the
	// search goes through with the filter dropped
	srv, f := newServer(t)
	ctx := context.Background()
	token := bearerToken(t, "user-1")

	require.NoError(t, f.Store.SaveCredentials(ctx, "user-1", zipcase.PortalCredentials{
		Username: "jane@example.com", Password: "hunter2",
	}))

	for _, dob := range []string{"2100-01-01", "not-a-date"} {
		resp, err := srv.App().Test(jsonRequest(t, "POST", "/name-search", token, map[string]string{
			"name":        "Jane Doe",
			"dateOfBirth": dob,
		}), -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode, "dob %q", dob)

		msg, err := f.SearchQueue.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		require.NotNil(t, msg.Job.NameSearch)
		assert.Empty(t, msg.Job.NameSearch.DateOfBirth, "dob %q", dob)
		require.NoError(t, f.SearchQueue.Ack(ctx, msg.ID))
	}
}

func TestNameSearchStatusUnknown(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := srv.App().Test(jsonRequest(t, "GET", "/name-search/nope", bearerToken(t, "user-1"), nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCaseStatus(t *testing.T) {
	srv, f := newServer(t)
	token := bearerToken(t, "user-1")

	resp, err := srv.App().Test(jsonRequest(t, "GET", "/case/25CR123456-789", token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "unseeded case is a 404")

	require.NoError(t, f.Store.PutCase(context.Background(), zipcase.ZipCase{
		CaseNumber: "25CR123456-789", FetchStatus: zipcase.Found(), CaseID: "ABC123",
	}))

	resp, err = srv.App().Test(jsonRequest(t, "GET", "/case/25CR123456-789", token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result zipcase.SearchResult
	decode(t, resp, &result)
	assert.Equal(t, zipcase.StatusFound, result.ZipCase.FetchStatus.Status)
}

func TestStatusBatch(t *testing.T) {
	srv, f := newServer(t)
	ctx := context.Background()

	require.NoError(t, f.Store.PutCase(ctx, zipcase.ZipCase{
		CaseNumber: "25CR123456-789", FetchStatus: zipcase.Processing(),
	}))

	resp, err := srv.App().Test(jsonRequest(t, "POST", "/status", bearerToken(t, "user-1"), map[string][]string{
		"caseNumbers": {"25CR123456-789", "99CR999999"},
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results map[string]zipcase.SearchResult `json:"results"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Results, 1)
	assert.Equal(t, zipcase.StatusProcessing, body.Results["25CR123456-789"].ZipCase.FetchStatus.Status)
}

func TestStatusPollRotatesUserAgent(t *testing.T) {
	// corruption recovery re-enqueues a resolve job from the poll
	// path, so the poll handlers rotate the user's agent bank the
	// same way /search does
	srv, f := newServer(t)
	ctx := context.Background()

	require.NoError(t, f.Store.SeedUserAgents(ctx, []string{"Mozilla/5.0 (test)"}))
	require.NoError(t, f.Store.PutCase(ctx, zipcase.ZipCase{
		CaseNumber: "25CR123456-789", FetchStatus: zipcase.Complete(),
	}))

	resp, err := srv.App().Test(jsonRequest(t, "POST", "/status", bearerToken(t, "user-1"), map[string][]string{
		"caseNumbers": {"25CR123456-789"},
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	msg, err := f.SearchQueue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg, "missing summary on a complete case must re-enqueue resolve")
	require.NotNil(t, msg.Job.Resolve)
	assert.Equal(t, "25CR123456-789", msg.Job.Resolve.CaseNumber)
	assert.Equal(t, "user-1", msg.Job.Resolve.UserID)
	assert.Equal(t, "Mozilla/5.0 (test)", msg.Job.Resolve.UserAgent)
}

func TestExportAttachment(t *testing.T) {
	srv, f := newServer(t)
	ctx := context.Background()

	require.NoError(t, f.Store.PutCase(ctx, zipcase.ZipCase{
		CaseNumber: "25CR123456-789", FetchStatus: zipcase.Complete(),
	}))
	require.NoError(t, f.Store.PutSummary(ctx, "25CR123456-789", zipcase.CaseSummary{
		CaseName: "STATE VS JOHN DOE", Court: "District Court 12",
		Charges: []zipcase.Charge{{Description: "SPEEDING"}},
	}))

	resp, err := srv.App().Test(jsonRequest(t, "POST", "/export", bearerToken(t, "user-1"), map[string][]string{
		"caseNumbers": {"25CR123456-789"},
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment; filename=\"ZipCase-Export-")
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, data)
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := srv.App().Test(jsonRequest(t, "GET", "/healthz", "", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
