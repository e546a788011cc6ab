package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/streamwatch/tender-risk/internal/api"
	"github.com/streamwatch/tender-risk/internal/artifacts"
	"github.com/streamwatch/tender-risk/internal/batch"
	"github.com/streamwatch/tender-risk/internal/predict"
	"github.com/streamwatch/tender-risk/internal/ratelimit"
	"github.com/streamwatch/tender-risk/internal/rules"
)

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Score every input file, train the classifier, then re-score with it",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, closeRegistry := a.openRegistry()
			defer closeRegistry()
			p := a.pipeline(registry)
			p.SetStageHook(a.stage)

			res, err := p.Run(cmd.Context())
			if res != nil {
				printSummary(cmd, res.Scoring)
				if res.Set != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "trained %s (%s) roc_auc=%.4f f1=%.4f\n",
						res.Set.Version, res.Set.Report.Model, res.Set.Report.ROCAUC, res.Set.Report.F1)
				}
				printSummary(cmd, res.Rescoring)
			}
			return err
		},
	}
}

func (a *app) scoreCmd() *cobra.Command {
	var withModel bool
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Rule-score every input file and write the consolidated corpus",
		Long: `score fits a fresh scoring baseline over all input files and writes one scores
file per input plus the consolidated corpus. With --with-model it reuses the
stored baseline and also writes predictions from the current model.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, closeRegistry := a.openRegistry()
			defer closeRegistry()
			p := a.pipeline(registry)

			phase := "score"
			var baseline *artifacts.Baseline
			var set *artifacts.Set
			if withModel {
				store := a.store()
				var err error
				if baseline, err = store.LoadBaseline(); err != nil {
					return fmt.Errorf("load scoring baseline: %w", err)
				}
				if set, err = store.LoadCurrent(); err != nil {
					return fmt.Errorf("load current model: %w", err)
				}
				phase = "rescore"
			}

			return a.stage(cmd.Context(), phase, func(ctx context.Context) error {
				res, err := p.Score(ctx, phase, baseline, set)
				if res != nil {
					printSummary(cmd, res.Summary)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&withModel, "with-model", false, "also write predictions from the current model")
	return cmd
}

func (a *app) trainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train the classifier on the consolidated scores corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, closeRegistry := a.openRegistry()
			defer closeRegistry()
			p := a.pipeline(registry)

			return a.stage(cmd.Context(), "train", func(ctx context.Context) error {
				set, err := p.Train(ctx, nil)
				if err != nil {
					return err
				}
				out := json.NewEncoder(cmd.OutOrStdout())
				out.SetIndent("", "  ")
				return out.Encode(struct {
					Version string      `json:"version"`
					Report  interface{} `json:"training_report"`
				}{set.Version, set.Report})
			})
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve scoring and predictions over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store := a.store()

			predictor := predict.NewService(store, a.metrics, a.logger)
			if err := predictor.Reload(); err != nil {
				if errors.Is(err, predict.ErrModelUnavailable) {
					a.logger.Warn("No trained model yet, /predict reports not ready until one is installed")
				} else {
					a.logger.Warn("Failed to load current model", "error", err)
				}
			}

			redisClient, err := ratelimit.NewRedisClient(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
			if err != nil {
				a.logger.Warn("Redis unavailable, rate limiting is per process", "error", err)
			}
			defer redisClient.Close()
			limiter := ratelimit.NewRateLimiter(redisClient, a.cfg.RateLimit(), a.metrics)
			defer limiter.Close()

			srv := api.NewServer(api.Deps{
				Predictor:     predictor,
				Store:         store,
				Limiter:       limiter,
				Metrics:       a.metrics,
				Logger:        a.logger,
				Security:      a.cfg.Security(),
				ScoresPath:    filepath.Join(a.cfg.Data.OutputDir, batch.ConsolidatedFile),
				StatsCacheTTL: a.cfg.Server.StatsCacheTTL,
				Compression:   a.cfg.Server.Compression,
			})
			defer srv.Close()

			httpSrv := &http.Server{
				Addr:              ":" + strconv.Itoa(a.cfg.Server.Port),
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("Starting server", "port", a.cfg.Server.Port)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			a.logger.Info("Server exited")
			return nil
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent training runs and stored model versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, closeRegistry := a.openRegistry()
			defer closeRegistry()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if registry != nil {
				runs, err := registry.History(limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "STARTED\tVERSION\tSTATUS\tMODEL\tROC_AUC\tSAMPLES\tERROR")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.4f\t%d\t%s\n",
						r.StartedAt.Format(time.RFC3339), r.Version, r.Status, r.Model, r.ROCAUC, r.Samples, r.Error)
				}
				fmt.Fprintln(w)
			}

			versions, err := a.store().Versions()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "VERSION\tCREATED\tCURRENT")
			for _, v := range versions {
				fmt.Fprintf(w, "%s\t%s\t%t\n", v.Version, v.CreatedAt.Format(time.RFC3339), v.Current)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "training runs to show")
	return cmd
}

func printSummary(cmd *cobra.Command, s *batch.Summary) {
	if s == nil {
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "phase %s: %d records, %d skipped, %d/%d files failed\n",
		s.Phase, s.TotalRecords, s.TotalSkipped, s.FailedFiles, len(s.Files))
	fmt.Fprintln(w, "FILE\tRECORDS\tSKIPPED\tHIGH\tMEDIUM\tLOW\tSTATUS")
	for _, f := range s.Files {
		status := "ok"
		switch {
		case f.Cancelled:
			status = "cancelled"
		case f.Failed():
			status = f.Error
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			f.File, f.Records, f.SkippedRows, f.Tiers[string(rules.TierHigh)], f.Tiers[string(rules.TierMedium)], f.Tiers[string(rules.TierLow)], status)
	}
	_ = w.Flush()
}
