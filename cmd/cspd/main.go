//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gobwas/glob"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/analyticalspace/csp-go/common/logging"
	"github.com/analyticalspace/csp-go/common/xcmd"
	"github.com/analyticalspace/csp-go/csp"
	"github.com/analyticalspace/csp-go/csp/cfp"
	"github.com/analyticalspace/csp-go/csp/kiss"
	"github.com/analyticalspace/csp-go/csp/security"
	"github.com/analyticalspace/csp-go/csp/zmqhub"
	"github.com/analyticalspace/csp-go/drivers/socketcan"
	"github.com/analyticalspace/csp-go/drivers/usart"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
	// Only restricts which configured interfaces are brought up, as a glob
	// over interface names.
	Only string
}

var rootCmd = &cobra.Command{
	Use:   "cspd",
	Short: "CSP node daemon",
	Run: func(rawCmd *cobra.Command, args []string) {
		if err := run(cmd); err != nil {
			var interrupted xcmd.Interrupted
			if errors.As(err, &interrupted) {
				return
			}

			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	rootCmd.Flags().StringVar(&cmd.Only, "only", "", "Bring up only interfaces matching this glob")
	rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

// runnable is anything owning a long-lived receive loop.
type runnable interface {
	Run(ctx context.Context) error
}

func run(cmd Cmd) error {
	cfg, err := LoadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	var only glob.Glob
	if cmd.Only != "" {
		if only, err = glob.Compile(cmd.Only); err != nil {
			return fmt.Errorf("bad --only pattern: %w", err)
		}
	}
	enabled := func(name string) bool {
		return only == nil || only.Match(name)
	}

	suite, err := security.NewSuite(cfg.Security)
	if err != nil {
		return fmt.Errorf("failed to configure packet security: %w", err)
	}

	opts := []csp.Option{
		csp.WithLocalHandler(func(p *csp.Packet) {
			log.Debugw("local delivery",
				zap.Uint8("src", p.ID.Source),
				zap.Uint8("sport", p.ID.SourcePort),
				zap.Uint8("dport", p.ID.DestPort),
				zap.Int("length", p.Length()),
			)
			p.Release()
		}),
	}
	if suite != nil {
		opts = append(opts, csp.WithVerifier(suite.Verify))
	}

	stack, err := csp.NewStack(cfg.Node, log, opts...)
	if err != nil {
		return fmt.Errorf("failed to create stack: %w", err)
	}

	var tasks []runnable
	sessions := cfp.NewSessions()

	for _, canCfg := range cfg.Interfaces.CAN {
		if !enabled(canCfg.CFP.Name) {
			continue
		}

		drv, err := socketcan.Open(canCfg.Link, log)
		if err != nil {
			return fmt.Errorf("failed to open CAN device: %w", err)
		}
		ifc, err := cfp.New(stack, drv, canCfg.CFP, log, cfp.WithSessions(sessions))
		if err != nil {
			return fmt.Errorf("failed to create CAN interface: %w", err)
		}
		if err := drv.Attach(ifc, stack.Address()); err != nil {
			return fmt.Errorf("failed to attach CAN driver: %w", err)
		}
		tasks = append(tasks, drv)
	}

	for _, kissCfg := range cfg.Interfaces.KISS {
		if !enabled(kissCfg.Framer.Name) {
			continue
		}

		drv, err := usart.Open(kissCfg.Link, log)
		if err != nil {
			return fmt.Errorf("failed to open serial device: %w", err)
		}
		ifc, err := kiss.New(stack, drv, kissCfg.Framer, log)
		if err != nil {
			return fmt.Errorf("failed to create KISS interface: %w", err)
		}
		drv.Attach(ifc)
		tasks = append(tasks, drv)
	}

	for _, zmqCfg := range cfg.Interfaces.ZMQ {
		if !enabled(zmqCfg.Name) {
			continue
		}

		ifc, err := zmqhub.New(stack, zmqCfg, log)
		if err != nil {
			return fmt.Errorf("failed to create ZMQ interface: %w", err)
		}
		tasks = append(tasks, ifc)
	}

	for _, routeCfg := range cfg.Routes {
		dst, err := routeCfg.parseDst()
		if err != nil {
			return err
		}

		ifc := stack.Interfaces().Get(routeCfg.Interface)
		if ifc == nil {
			return fmt.Errorf("route %q references unknown interface %q",
				routeCfg.Dst, routeCfg.Interface)
		}

		via := csp.NodeMAC
		if routeCfg.Via != nil {
			via = *routeCfg.Via
		}
		if err := stack.Routes().Set(dst, ifc, via); err != nil {
			return fmt.Errorf("failed to install route to %q: %w", routeCfg.Dst, err)
		}
	}

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return stack.Run(ctx)
	})
	for _, task := range tasks {
		task := task
		wg.Go(func() error {
			return task.Run(ctx)
		})
	}

	if cfg.Metrics.Endpoint != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(csp.NewInterfaceCollector(stack.Interfaces()))

		server := &http.Server{
			Addr:    cfg.Metrics.Endpoint,
			Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}
		wg.Go(func() error {
			log.Infof("exposing metrics on %s", cfg.Metrics.Endpoint)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		wg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	return wg.Wait()
}
