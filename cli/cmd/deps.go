package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zipcase/zipcase/alert"
	"github.com/zipcase/zipcase/config"
	"github.com/zipcase/zipcase/export"
	"github.com/zipcase/zipcase/portal"
	"github.com/zipcase/zipcase/queue"
	"github.com/zipcase/zipcase/search"
	"github.com/zipcase/zipcase/session"
	"github.com/zipcase/zipcase/status"
	"github.com/zipcase/zipcase/store"
)

// deps is the wired object graph both long-running commands share.
type deps struct {
	cfg    *config.Config
	logger logrus.FieldLogger

	rdb      *redis.Client
	natsConn *nats.Conn

	store         *store.Store
	searchQueue   *queue.Queue
	caseDataQueue *queue.Queue
	portal        *portal.Client
	auth          *session.Authenticator
	alerter       *alert.Alerter
	processor     *search.Processor
	checker       *status.Checker
	exporter      *export.Exporter
}

func buildDeps() (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logrus.StandardLogger()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	sealer, err := store.NewSealer(cfg.EncryptionKey)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}

	var pub alert.Publisher
	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			logger.WithError(err).Warn("NATS unreachable, alerts degrade to log-only")
		} else {
			pub = natsConn
		}
	}

	st := store.New(rdb, sealer, logger)
	searchQueue := queue.New(rdb, cfg.SearchQueue, logger)
	caseDataQueue := queue.New(rdb, cfg.CaseDataQueue, logger)
	pc := portal.New(cfg.PortalURL, cfg.PortalCaseURL, logger)
	auth := session.New(st, pc, logger)
	alerter := alert.New(logger, pub, cfg.AlertSubject)
	processor := search.NewProcessor(st, searchQueue, auth, logger)

	return &deps{
		cfg:           cfg,
		logger:        logger,
		rdb:           rdb,
		natsConn:      natsConn,
		store:         st,
		searchQueue:   searchQueue,
		caseDataQueue: caseDataQueue,
		portal:        pc,
		auth:          auth,
		alerter:       alerter,
		processor:     processor,
		checker:       status.NewChecker(st, searchQueue, alerter, logger),
		exporter:      export.NewExporter(st, logger),
	}, nil
}

func (d *deps) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	_ = d.rdb.Close()
}

// signalContext is canceled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
