// Package zipcasetest provides the shared test fixture: a miniredis
// instance with the stores and both work queues wired against it.
package zipcasetest

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zipcase/zipcase/queue"
	"github.com/zipcase/zipcase/store"
)

// TestKeyHex is the fixed credential encryption key used in tests.
const TestKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type Fixture struct {
	Redis         *miniredis.Miniredis
	Client        *redis.Client
	Store         *store.Store
	SearchQueue   *queue.Queue
	CaseDataQueue *queue.Queue
	Logger        logrus.FieldLogger
}

func NewFixture(t *testing.T) *Fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sealer, err := store.NewSealer(TestKeyHex)
	if err != nil {
		panic(err)
	}
	logger := logrus.StandardLogger()

	return &Fixture{
		Redis:         mr,
		Client:        rdb,
		Store:         store.New(rdb, sealer, logger),
		SearchQueue:   queue.New(rdb, "search", logger).WithVisibility(time.Second),
		CaseDataQueue: queue.New(rdb, "casedata", logger).WithVisibility(time.Second),
		Logger:        logger,
	}
}
