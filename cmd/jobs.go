package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-remittance/config"
)

var (
	workerMode bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume orchestration of non-terminal payments",
	Long:  "Re-arm settlement timers and restart the flow of every payment left in a non-terminal state. Without --worker the command waits until the resumed flows finish.",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"resume",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ResumeInterval },
			func(rt *runtime, ctx context.Context) (int, error) {
				if _, err := rt.adapter.RescheduleProcessing(ctx, rt.cfg.Orchestration.JobBatchSize); err != nil {
					return 0, err
				}
				return rt.paymentService.RunResumeBatch(ctx)
			},
		)
	},
}

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Run webhook delivery related commands",
}

var webhooksDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Attempt every due webhook delivery once",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"webhooks_dispatch",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.WebhookDispatchInterval },
			func(rt *runtime, ctx context.Context) (int, error) {
				return rt.paymentService.RunDispatchWebhooksBatch(ctx)
			},
		)
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Run expiration-related commands",
}

var expireStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "Fail pending payments whose collection never started",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"expire_stale",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ExpireStaleInterval },
			func(rt *runtime, ctx context.Context) (int, error) {
				return rt.paymentService.RunExpireStaleBatch(ctx)
			},
		)
	},
}

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Run exchange rate cache commands",
}

var ratesPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired rows from the SQL exchange rate cache",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"rates_purge",
			func(cfg *config.Config) time.Duration { return cfg.Rates.TTL },
			func(rt *runtime, ctx context.Context) (int, error) {
				n, err := rt.rateCache.DeleteExpired(ctx, time.Now().UTC())
				return int(n), err
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(webhooksCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(ratesCmd)
	webhooksCmd.AddCommand(webhooksDispatchCmd)
	expireCmd.AddCommand(expireStaleCmd)
	ratesCmd.AddCommand(ratesPurgeCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

type jobFunc func(rt *runtime, ctx context.Context) (int, error)

func runCommand(name string, intervalResolver func(cfg *config.Config) time.Duration, fn jobFunc) {
	rt := mustCreateRuntime()
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if workerMode {
		runWorker(ctx, name, intervalResolver(rt.cfg), rt, fn)
		return
	}

	runJob(name, func() (int, error) { return fn(rt, ctx) })
	if err := rt.paymentService.Wait(ctx); err != nil {
		logrus.WithField("job", name).Info("Stopped before resumed flows finished")
	}
}

func runWorker(ctx context.Context, name string, interval time.Duration, rt *runtime, fn jobFunc) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runJob(name, func() (int, error) { return fn(rt, ctx) })

	for {
		select {
		case <-ctx.Done():
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() (int, error) { return fn(rt, ctx) })
		}
	}
}

func runJob(name string, fn func() (int, error)) {
	start := time.Now()
	count, err := fn()
	latency := time.Since(start)
	entry := logrus.WithField("job", name).WithField("count", count).WithField("latency", latency.String())
	if err != nil {
		entry.WithError(err).Error("job_failed")
		return
	}
	entry.Info("job_completed")
}
