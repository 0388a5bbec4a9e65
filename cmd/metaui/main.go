// Command metaui connects to a gateway and renders its surfaces as text.
//
// Commands read from stdin:
//
//	click <surface> <component>
//	set <surface> <component> <json-or-text>
//	show <surface>
//	quit
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"metaui/internal/catalog"
	"metaui/internal/config"
	"metaui/internal/conn"
	"metaui/internal/dispatch"
	"metaui/internal/logging"
	"metaui/internal/protocol"
	"metaui/internal/runtime"
	"metaui/internal/ui"
)

func main() {
	cfg, err := config.LoadRuntime(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, closeLog, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = ui.WithEmitter(ctx, ui.NewTextRenderer(os.Stdout))

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	cat := catalog.Standard()
	mgr := conn.New(conn.Config{
		URL:    cfg.GatewayURL,
		Header: header,
		Hello: protocol.Hello{
			ClientID:            cfg.ClientID,
			Token:               cfg.Token,
			SupportedComponents: cat.Types(),
		},
		Backoff: conn.Backoff{
			Base:       cfg.BackoffBase,
			Max:        cfg.BackoffMax,
			Multiplier: cfg.BackoffMultiplier,
		},
		QueueCapacity: cfg.PendingCapacity,
	}, logger)
	rt := runtime.New(runtime.Options{
		Catalog:           cat,
		AllowRootFallback: cfg.RootFallback,
		MaxSurfaces:       cfg.MaxSurfaces,
		Sender:            mgr,
		Logger:            logger,
	})

	go func() {
		if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("connection manager stopped", "err", err)
			stop()
		}
	}()
	go readCommands(os.Stdin, rt, stop)

	if err := rt.Run(ctx, mgr.Inbound()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runtime stopped", "err", err)
		os.Exit(1)
	}
}

func readCommands(r io.Reader, rt *runtime.Runtime, quit func()) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := runCommand(line, rt); err != nil {
			if errors.Is(err, errQuit) {
				quit()
				return
			}
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

var errQuit = errors.New("quit")

func runCommand(line string, rt *runtime.Runtime) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "quit", "exit":
		return errQuit
	case "show":
		if len(fields) != 2 {
			return errors.New("usage: show <surface>")
		}
		rt.Activate(fields[1])
	case "click":
		if len(fields) != 3 {
			return errors.New("usage: click <surface> <component>")
		}
		rt.Post(dispatch.Interaction{SurfaceID: fields[1], ComponentID: fields[2], Type: "click"})
	case "set":
		if len(fields) < 4 {
			return errors.New("usage: set <surface> <component> <value>")
		}
		raw := strings.Join(fields[3:], " ")
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		rt.Post(dispatch.Interaction{
			SurfaceID:   fields[1],
			ComponentID: fields[2],
			Type:        "change",
			Payload:     map[string]any{"value": value},
		})
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
	return nil
}
