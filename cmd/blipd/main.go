// Command blipd is a small gateway that accepts BLIP connections over
// WebSocket and answers a handful of demo profiles. It exists to
// exercise the engine end to end, not as a production server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/blip"
	"github.com/zeusync/blip/internal/log"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := loadDaemonConfig(*configPath)
	if err != nil {
		fmt.Println("blipd: failed to load config:", err)
		os.Exit(1)
	}

	logger := log.New(parseLevel(cfg.LogLevel))
	blipCfg := cfg.blipConfig()

	var active activeConnections

	mux := http.NewServeMux()
	mux.Handle("/blip", blip.UpgradeHandler(blipCfg, logger, func(transport blip.Transport) {
		conn := blip.NewConnection(transport, &gatewayDelegate{log: logger}, blipCfg, logger)
		registerDemoHandlers(conn)
		active.add(conn)
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		logger.Info("blipd listening", log.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", log.Error(err))
			cancel()
		}
	}()

	select {
	case <-stopCh:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), blipCfg.WriteTimeout+blipCfg.ReadTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", log.Error(err))
	}
	active.closeAll(blip.CloseStatus{Message: "server shutting down"})
}

func parseLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "none":
		return log.LevelNone
	default:
		return log.LevelInfo
	}
}

// gatewayDelegate logs connection lifecycle events; blipd doesn't need
// per-connection application state beyond the registered handlers.
type gatewayDelegate struct {
	log log.Log
}

func (d *gatewayDelegate) OnConnect() {
	d.log.Debug("connection established")
}

func (d *gatewayDelegate) OnClose(status blip.CloseStatus) {
	d.log.Info("connection closed", log.Int("code", status.Code), log.String("message", status.Message))
}

func (d *gatewayDelegate) OnRequestReceived(req *blip.MessageIn) (*blip.MessageBuilder, error) {
	d.log.Warn("request with no registered handler", log.String("profile", req.Profile()))
	return nil, blip.ErrHandlerNotFound
}

func (d *gatewayDelegate) OnResponseReceived(*blip.MessageIn) {}

// registerDemoHandlers wires the profiles blipd answers: a trivial
// health check and an echo used by integration tests driving blipd as a
// real peer over a socket.
func registerDemoHandlers(conn *blip.Connection) {
	conn.SetRequestHandler("ping", func(req *blip.MessageIn) (*blip.MessageBuilder, error) {
		return blip.NewResponse().SetBody([]byte("pong")), nil
	})

	conn.SetRequestHandler("echo", func(req *blip.MessageIn) (*blip.MessageBuilder, error) {
		resp := blip.NewResponse()
		if props, ok := req.Properties(); ok {
			for _, p := range props.All() {
				resp.AddProperty(p.Name, p.Value)
			}
		}
		resp.SetBody(req.Body())
		return resp, nil
	})
}
