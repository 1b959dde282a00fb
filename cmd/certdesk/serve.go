package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"certdesk/internal/metrics"
	"certdesk/internal/server"
	"certdesk/internal/syncbus"
)

const systemActor = "system"

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	var expireEvery time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Serves the REST API with OpenAPI at /openapi.json, change signals over SSE at /stream
and Prometheus metrics at /metrics. Webhooks configured in certdesk.yml are delivered from the event log.
Bearer tokens are verified with CERTDESK_JWT_SECRET.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			a, err := openApp(ctx, m)
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.Config
			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			secret := strings.TrimSpace(viper.GetString("jwt-secret"))
			if secret == "" && devLogin {
				return errors.New("CERTDESK_JWT_SECRET is required with --dev-login")
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Store:    a.Store,
				Session:  a.Session,
				Bus:      a.Bus,
				Metrics:  m,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:             secret,
					AllowLegacyUserHeader: cfg.Server.AllowLegacyUserHeader,
					DevLogin:              devLogin,
					Logger:                a.Logger,
				},
				Logger: a.Logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				fmt.Printf("Serving certdesk API on http://%s%s (OpenAPI at /openapi.json)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return a.Watch(gctx)
			})
			g.Go(func() error {
				return server.NewDispatcher(a.Repo, cfg.Webhooks, a.Logger).Run(gctx)
			})
			if expireEvery > 0 {
				g.Go(func() error {
					ticker := time.NewTicker(expireEvery)
					defer ticker.Stop()
					for {
						select {
						case <-gctx.Done():
							return nil
						case <-ticker.C:
							n, err := a.Engine.ExpireCertificates(gctx, systemActor)
							if err != nil {
								a.Logger.Warn("certificate expiry sweep failed", zap.Error(err))
								continue
							}
							if n > 0 {
								a.Logger.Info("certificates expired", zap.Int("count", n))
							}
						}
					}
				})
			}
			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (default from certdesk.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path (default from certdesk.yml)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login token minting")
	cmd.Flags().DurationVar(&expireEvery, "expire-every", 0, "run the certificate expiry sweep at this interval")
	return cmd
}

func watchCmd() *cobra.Command {
	var signals []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print change signals, including those from other processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			filter := make([]syncbus.Signal, 0, len(signals))
			for _, s := range signals {
				filter = append(filter, syncbus.Signal(s))
			}
			ch, unsubscribe := a.Bus.SubscribeChan(64, filter...)
			defer unsubscribe()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.Watch(gctx)
			})
			g.Go(func() error {
				for {
					select {
					case <-gctx.Done():
						return nil
					case ev, ok := <-ch:
						if !ok {
							return nil
						}
						if viper.GetBool("json") {
							if err := printJSON(ev); err != nil {
								return err
							}
							continue
						}
						fmt.Printf("%s  %-26s %s\n", ev.At.Format(time.RFC3339), ev.Signal, ev.Origin)
					}
				}
			})
			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&signals, "signal", nil, "only these signals (e.g. job-orders-changed)")
	return cmd
}
