package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zipcase/zipcase"
	"github.com/zipcase/zipcase/portal"
	"github.com/zipcase/zipcase/queue"
	"github.com/zipcase/zipcase/session"
	"github.com/zipcase/zipcase/zipcasetest"
)

func newProcessor(t *testing.T, portalURL string) (*Processor, *zipcasetest.Fixture) {
	t.Helper()
	f := zipcasetest.NewFixture(t)
	pc := portal.New(portalURL, portalURL, logrus.StandardLogger())
	auth := session.New(f.Store, pc, logrus.StandardLogger())
	return NewProcessor(f.Store, f.SearchQueue, auth, logrus.StandardLogger()), f
}

func okLoginServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "s", Value: "tok"})
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcessSearchSeedsAndEnqueues(t *testing.T) {
	p, f := newProcessor(t, okLoginServer(t).URL)
	ctx := context.Background()

	results, err := p.ProcessSearch(ctx, "please check 25CR123456-789 and 24CV000111", "user-1", "agent")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, zipcase.StatusQueued, results["25CR123456-789"].ZipCase.FetchStatus.Status)
	assert.Nil(t, results["25CR123456-789"].CaseSummary)

	// both cases are persisted and both resolve jobs are queued
	zc, err := f.Store.GetCase(ctx, "24CV000111")
	require.NoError(t, err)
	require.NotNil(t, zc)
	n, err := f.SearchQueue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestProcessSearchNoCaseNumbers(t *testing.T) {
	p, f := newProcessor(t, okLoginServer(t).URL)

	results, err := p.ProcessSearch(context.Background(), "nothing to see", "user-1", "")
	require.NoError(t, err)
	assert.Empty(t, results)
	n, err := f.SearchQueue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestProcessSearchCoalesces(t *testing.T) {
	p, f := newProcessor(t, okLoginServer(t).URL)
	ctx := context.Background()

	// a case already in flight must not be re-queued
	require.NoError(t, f.Store.PutCase(ctx, zipcase.ZipCase{
		CaseNumber:  "25CR123456-789",
		FetchStatus: zipcase.Processing(),
	}))
	// a terminal case must not be re-queued either
	require.NoError(t, f.Store.PutCase(ctx, zipcase.ZipCase{
		CaseNumber:  "24CV000111",
		FetchStatus: zipcase.Complete(),
		CaseID:      "abc",
	}))

	results, err := p.ProcessSearch(ctx, "25CR123456-789 24CV000111", "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, zipcase.StatusProcessing, results["25CR123456-789"].ZipCase.FetchStatus.Status)
	assert.Equal(t, zipcase.StatusComplete, results["24CV000111"].ZipCase.FetchStatus.Status)

	n, err := f.SearchQueue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestProcessSearchRequeuesStaleFailure(t *testing.T) {
	p, f := newProcessor(t, okLoginServer(t).URL)
	ctx := context.Background()

	stale := time.Now().Add(-time.Hour).UTC()
	require.NoError(t, f.Store.PutCase(ctx, zipcase.ZipCase{
		CaseNumber:  "25CR123456-789",
		FetchStatus: zipcase.Failed(zipcase.MsgPortalBusy),
		LastUpdated: &stale,
	}))
	recent := time.Now().UTC()
	require.NoError(t, f.Store.PutCase(ctx, zipcase.ZipCase{
		CaseNumber:  "24CV000111",
		FetchStatus: zipcase.Failed(zipcase.MsgPortalBusy),
		LastUpdated: &recent,
	}))

	_, err := p.ProcessSearch(ctx, "25CR123456-789 24CV000111", "user-1", "")
	require.NoError(t, err)

	n, err := f.SearchQueue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the stale failure is re-queued")

	msg, err := f.SearchQueue.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "25CR123456-789", msg.Job.Resolve.CaseNumber)
}

func TestProcessNameSearch(t *testing.T) {
	p, f := newProcessor(t, okLoginServer(t).URL)
	ctx := context.Background()

	require.NoError(t, f.Store.SaveCredentials(ctx, "user-1", zipcase.PortalCredentials{
		Username: "jane@example.com", Password: "hunter2",
	}))

	searchID, err := p.ProcessNameSearch(ctx, NameSearchRequest{
		Name:         "Jane Doe",
		UserID:       "user-1",
		DateOfBirth:  "1980-01-01",
		CriminalOnly: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, searchID)

	data, err := f.Store.GetNameSearch(ctx, searchID)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, zipcase.StatusQueued, data.Status)
	assert.Equal(t, "Doe, Jane", data.NormalizedName)
	assert.Empty(t, data.Cases)

	msg, err := f.SearchQueue.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, queue.KindNameSearch, msg.Job.Kind)
	assert.Equal(t, searchID, msg.Job.NameSearch.SearchID)
	assert.True(t, msg.Job.NameSearch.CriminalOnly)
}

func TestProcessNameSearchDOBHandling(t *testing.T) {
	p, f := newProcessor(t, okLoginServer(t).URL)
	ctx := context.Background()

	require.NoError(t, f.Store.SaveCredentials(ctx, "user-1", zipcase.PortalCredentials{
		Username: "jane@example.com", Password: "hunter2",
	}))

	test := func(input, want string) func(*testing.T) {
		return func(t *testing.T) {
			searchID, err := p.ProcessNameSearch(ctx, NameSearchRequest{
				Name: "Jane Doe", UserID: "user-1", DateOfBirth: input,
			})
			require.NoError(t, err)

			data, err := f.Store.GetNameSearch(ctx, searchID)
			require.NoError(t, err)
			require.NotNil(t, data)
			assert.Equal(t, want, data.DateOfBirth)

			msg, err := f.SearchQueue.Dequeue(ctx, 0)
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, want, msg.Job.NameSearch.DateOfBirth)
			require.NoError(t, f.SearchQueue.Ack(ctx, msg.ID))
		}
	}

	t.Run("iso date kept", test("1980-01-01", "1980-01-01"))
	t.Run("slash date normalized", test("01/02/1990", "1990-01-02"))
	t.Run("future date dropped", test("2100-01-01", ""))
	t.Run("garbage dropped", test("not-a-date", ""))
}

func TestProcessNameSearchUnparseable(t *testing.T) {
	p, _ := newProcessor(t, okLoginServer(t).URL)
	_, err := p.ProcessNameSearch(context.Background(), NameSearchRequest{Name: "   ", UserID: "user-1"})
	assert.ErrorIs(t, err, ErrUnparseableName)
}

func TestProcessNameSearchSessionFailureRecorded(t *testing.T) {
	p, f := newProcessor(t, okLoginServer(t).URL)
	ctx := context.Background()

	// user has no credentials: the search is created already failed
	searchID, err := p.ProcessNameSearch(ctx, NameSearchRequest{Name: "Jane Doe", UserID: "user-2"})
	require.NoError(t, err)

	data, err := f.Store.GetNameSearch(ctx, searchID)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, zipcase.StatusFailed, data.Status)
	assert.Equal(t, zipcase.MsgNoCredentials, data.Message)

	n, err := f.SearchQueue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "no queue work after a session failure")
}
