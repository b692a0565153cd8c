package cmd

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zipcase/zipcase/queue"
	"github.com/zipcase/zipcase/store"
	"github.com/zipcase/zipcase/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the queue consumers",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx, stop := signalContext()
		defer stop()

		if d.cfg.UserAgentFile != "" {
			agents, err := store.LoadUserAgentFile(d.cfg.UserAgentFile)
			if err != nil {
				return err
			}
			if err := d.store.SeedUserAgents(ctx, agents); err != nil {
				return err
			}
			d.logger.WithField("count", len(agents)).Info("seeded user agent collection")
		}

		resolve := worker.NewResolveWorker(d.store, d.portal, d.auth, d.searchQueue, d.caseDataQueue, d.alerter, d.logger)
		nameSearch := worker.NewNameSearchWorker(d.store, d.portal, d.auth, d.processor, d.searchQueue, d.alerter, d.logger)
		caseData := worker.NewCaseDataWorker(d.store, d.portal, d.auth, d.caseDataQueue, d.alerter, d.logger)

		searchConsumer := worker.NewConsumer(d.searchQueue, d.cfg.SearchQueue, d.cfg.WorkerParallelism, d.alerter, d.logger)
		searchConsumer.Register(queue.KindResolve, resolve.Handle)
		searchConsumer.Register(queue.KindNameSearch, nameSearch.Handle)

		caseDataConsumer := worker.NewConsumer(d.caseDataQueue, d.cfg.CaseDataQueue, d.cfg.WorkerParallelism, d.alerter, d.logger)
		caseDataConsumer.Register(queue.KindFetchSummary, caseData.Handle)

		d.logger.Info("workers running")
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			searchConsumer.Run(ctx)
			return nil
		})
		g.Go(func() error {
			caseDataConsumer.Run(ctx)
			return nil
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
