// csp-zmqhub is the message hub for ZeroMQ-attached CSP nodes: an
// XSUB/XPUB forwarder. Nodes publish into the subscribe side and receive
// from the publish side; subscription filtering happens here, keyed on the
// one-byte via address prefixing every message.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-zeromq/zmq4"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/analyticalspace/csp-go/common/logging"
	"github.com/analyticalspace/csp-go/common/xcmd"
	"github.com/analyticalspace/csp-go/csp/zmqhub"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// SubEndpoint is where nodes publish to (our XSUB side).
	SubEndpoint string
	// PubEndpoint is where nodes subscribe to (our XPUB side).
	PubEndpoint string
	// Debug enables per-message logging.
	Debug bool
}

var rootCmd = &cobra.Command{
	Use:   "csp-zmqhub",
	Short: "CSP ZeroMQ hub proxy",
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
	rootCmd.Flags().StringVar(&cmd.SubEndpoint, "sub",
		fmt.Sprintf("tcp://*:%d", zmqhub.HubSubscribePort), "XSUB listen endpoint (node tx side)")
	rootCmd.Flags().StringVar(&cmd.PubEndpoint, "pub",
		fmt.Sprintf("tcp://*:%d", zmqhub.HubPublishPort), "XPUB listen endpoint (node rx side)")
	rootCmd.Flags().BoolVarP(&cmd.Debug, "debug", "d", false, "Log forwarded messages")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	level := zapcore.InfoLevel
	if cmd.Debug {
		level = zapcore.DebugLevel
	}

	log, _, err := logging.Init(&logging.Config{Level: level})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)

	xsub := zmq4.NewXSub(ctx)
	xpub := zmq4.NewXPub(ctx)
	defer xsub.Close()
	defer xpub.Close()

	if err := xsub.Listen(cmd.SubEndpoint); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cmd.SubEndpoint, err)
	}
	if err := xpub.Listen(cmd.PubEndpoint); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cmd.PubEndpoint, err)
	}

	log.Infof("hub up, sub %s pub %s", cmd.SubEndpoint, cmd.PubEndpoint)

	// Messages flow XSUB -> XPUB; subscriptions flow back XPUB -> XSUB.
	wg.Go(func() error {
		return forward(ctx, xsub, xpub, func(msg zmq4.Msg) {
			if data := msg.Bytes(); len(data) > 0 {
				log.Debugf("forwarding %d bytes via %d", len(data), data[0])
			}
		})
	})
	wg.Go(func() error {
		return forward(ctx, xpub, xsub, func(msg zmq4.Msg) {
			log.Debugf("subscription update: %x", msg.Bytes())
		})
	})

	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	return wg.Wait()
}

func forward(ctx context.Context, from, to zmq4.Socket, trace func(zmq4.Msg)) error {
	for {
		msg, err := from.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("hub receive failed: %w", err)
		}
		trace(msg)

		if err := to.Send(msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("hub send failed: %w", err)
		}
	}
}
