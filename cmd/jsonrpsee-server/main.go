// Command jsonrpsee-server boots a WebSocket JSON-RPC server exercising
// the example methods of spec.md §8: say_hello, add, and a subscribe_x/
// unsubscribe_x pair that broadcasts on an interval.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/darwinia-network/jsonrpsee/rpc"
	"github.com/darwinia-network/jsonrpsee/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "jsonrpsee-server",
		Short: "WebSocket JSON-RPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.String("listen-addr", "127.0.0.1:8546", "address to listen for WebSocket connections on")
	flags.String("allowed-origins", "*", "comma-separated list of allowed CORS origins, or * for any")
	flags.Int("method-queue-size", 16, "per-method handler queue capacity")
	flags.Bool("dev", false, "enable human-readable, debug-level logging")
	v.BindPFlags(flags)
	v.SetEnvPrefix("JSONRPSEE")
	v.AutomaticEnv()

	return cmd
}

func run(v *viper.Viper) error {
	log, err := newLogger(v.GetBool("dev"))
	if err != nil {
		return errors.Wrap(err, "build logger")
	}
	defer log.Sync()

	origins := strings.Split(v.GetString("allowed-origins"), ",")
	ws, err := transport.Listen(v.GetString("listen-addr"), transport.Config{AllowedOrigins: origins}, log)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	defer ws.Close()

	srv := rpc.NewServer(ws, ws.Addr(), log)
	defer srv.Close()

	if err := registerExampleAPI(srv, v.GetInt("method-queue-size")); err != nil {
		return errors.Wrap(err, "register api")
	}

	log.Info("jsonrpsee-server listening", zap.String("addr", srv.LocalAddr()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// registerExampleAPI wires the scenarios from spec.md §8 (S1, S2, S5) onto
// srv: say_hello, add, and a subscribe_x/unsubscribe_x pair that
// broadcasts a counter every second to every live subscriber.
func registerExampleAPI(srv *rpc.Server, queueSize int) error {
	sayHello, err := srv.RegisterMethod("say_hello", queueSize)
	if err != nil {
		return err
	}
	go serveSayHello(sayHello)

	add, err := srv.RegisterMethod("add", queueSize)
	if err != nil {
		return err
	}
	go serveAdd(add)

	sub, err := srv.RegisterSubscription("subscribe_x", "unsubscribe_x", queueSize)
	if err != nil {
		return err
	}
	go broadcastX(sub)

	return nil
}

func serveSayHello(m *rpc.RegisteredMethod) {
	ctx := context.Background()
	for {
		call, ok := m.Next(ctx)
		if !ok {
			return
		}
		m.Respond(call.ID, "hello", nil)
	}
}

func serveAdd(m *rpc.RegisteredMethod) {
	ctx := context.Background()
	for {
		call, ok := m.Next(ctx)
		if !ok {
			return
		}
		var args []int
		if err := json.Unmarshal(call.Params, &args); err != nil || len(args) != 2 {
			m.Respond(call.ID, nil, errors.New("add expects exactly two numeric params"))
			continue
		}
		m.Respond(call.ID, args[0]+args[1], nil)
	}
}

func broadcastX(sub *rpc.RegisteredSubscription) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var counter int
	for range ticker.C {
		counter++
		sub.Send(counter)
	}
}
