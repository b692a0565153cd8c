package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zipcase/zipcase"
	"github.com/zipcase/zipcase/queue"
)

func nameSearchMsg(searchID string) *queue.Message {
	return &queue.Message{
		ID: "m1",
		Job: queue.NewNameSearchJob(queue.NameSearchJob{
			SearchID:       searchID,
			UserID:         "user-1",
			NormalizedName: "Doe, Jane",
			CriminalOnly:   true,
		}),
		Deliveries: 1,
	}
}

func seedNameSearch(t *testing.T, e *env, searchID string) {
	t.Helper()
	require.NoError(t, e.f.Store.PutNameSearch(context.Background(), zipcase.NameSearchData{
		SearchID:       searchID,
		OriginalName:   "Jane Doe",
		NormalizedName: "Doe, Jane",
		CriminalOnly:   true,
		Cases:          []string{},
		Status:         zipcase.StatusQueued,
	}))
}

func TestNameSearchWorkerHappyPath(t *testing.T) {
	e := newEnv(t, standardPortal(twoResultPage, detailPage))
	ctx := context.Background()
	e.saveCredentials(t, "user-1")
	seedNameSearch(t, e, "search-1")

	res := e.nameSearch.Handle(ctx, nameSearchMsg("search-1"))
	assert.Equal(t, Done, res)

	data, err := e.f.Store.GetNameSearch(ctx, "search-1")
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, zipcase.StatusComplete, data.Status)
	assert.Equal(t, []string{"25CR123456-789", "24CV000111"}, data.Cases)

	// every discovered case is seeded and has a resolve job
	for _, cn := range data.Cases {
		zc, err := e.f.Store.GetCase(ctx, cn)
		require.NoError(t, err)
		require.NotNil(t, zc, cn)
		assert.Equal(t, zipcase.StatusQueued, zc.FetchStatus.Status)
	}
	n, err := e.f.SearchQueue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestNameSearchWorkerNoHits(t *testing.T) {
	e := newEnv(t, standardPortal(`<html><body><p>No cases match.</p></body></html>`, detailPage))
	ctx := context.Background()
	e.saveCredentials(t, "user-1")
	seedNameSearch(t, e, "search-1")

	res := e.nameSearch.Handle(ctx, nameSearchMsg("search-1"))
	assert.Equal(t, Done, res)

	data, err := e.f.Store.GetNameSearch(ctx, "search-1")
	require.NoError(t, err)
	assert.Equal(t, zipcase.StatusComplete, data.Status)
	assert.Empty(t, data.Cases)

	n, err := e.f.SearchQueue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestNameSearchWorkerPortalBusy(t *testing.T) {
	busy := `<html><body><p>We are having trouble processing your request.</p></body></html>`
	e := newEnv(t, standardPortal(busy, detailPage))
	ctx := context.Background()
	e.saveCredentials(t, "user-1")
	seedNameSearch(t, e, "search-1")

	res := e.nameSearch.Handle(ctx, nameSearchMsg("search-1"))
	assert.Equal(t, Done, res)

	data, err := e.f.Store.GetNameSearch(ctx, "search-1")
	require.NoError(t, err)
	assert.Equal(t, zipcase.StatusFailed, data.Status)
	assert.Equal(t, zipcase.MsgPortalBusy, data.Message)
}

func TestNameSearchWorkerSessionFailure(t *testing.T) {
	e := newEnv(t, standardPortal(twoResultPage, detailPage))
	ctx := context.Background()
	// no credentials saved for user-1
	seedNameSearch(t, e, "search-1")

	res := e.nameSearch.Handle(ctx, nameSearchMsg("search-1"))
	assert.Equal(t, Done, res)

	data, err := e.f.Store.GetNameSearch(ctx, "search-1")
	require.NoError(t, err)
	assert.Equal(t, zipcase.StatusFailed, data.Status)
	assert.Equal(t, zipcase.MsgNoCredentials, data.Message)
}

func TestNameSearchWorkerExpiredEntry(t *testing.T) {
	e := newEnv(t, standardPortal(twoResultPage, detailPage))

	// nothing stored under this id (the 24h TTL has fired)
	res := e.nameSearch.Handle(context.Background(), nameSearchMsg("gone"))
	assert.Equal(t, Done, res)
}

func TestNameSearchWorkerExhausted(t *testing.T) {
	e := newEnv(t, standardPortal(twoResultPage, detailPage))
	ctx := context.Background()
	e.saveCredentials(t, "user-1")
	seedNameSearch(t, e, "search-1")

	msg := nameSearchMsg("search-1")
	msg.Deliveries = queue.DefaultMaxDeliveries + 1
	res := e.nameSearch.Handle(ctx, msg)
	assert.Equal(t, Done, res)

	data, err := e.f.Store.GetNameSearch(ctx, "search-1")
	require.NoError(t, err)
	assert.Equal(t, zipcase.StatusFailed, data.Status)
	assert.Equal(t, zipcase.MsgMaxAttempts, data.Message)
}
