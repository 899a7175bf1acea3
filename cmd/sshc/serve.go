package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/websoft9/sshcore/internal/sshcore/hostkeys"
	"github.com/websoft9/sshcore/internal/terminal"
)

var serveFlags struct {
	addr string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local WebSocket terminal bridge (for embedding in a browser-based UI)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "127.0.0.1:2222", "address to listen on")
	rootCmd.AddCommand(serveCmd)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func runServe(cmd *cobra.Command, args []string) error {
	startCacheHousekeeping()

	mux := http.NewServeMux()
	mux.HandleFunc("/terminal", handleTerminalWS)

	srv := &http.Server{Addr: serveFlags.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", serveFlags.addr).Msg("ws-bridge listening")
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-quit:
		log.Info().Msg("shutting down ws-bridge")
		return srv.Close()
	}
	return nil
}

func handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	sess, err := terminal.NewLocalSession(id, conn)
	if err != nil {
		log.Error().Err(err).Msg("start local session")
		conn.Close()
		return
	}

	terminal.Register(id, sess)
	log.Info().Str("session_id", id).Msg("terminal session opened")
}

// startCacheHousekeeping runs a low-frequency check that the host key
// cache file still parses, so a corrupted cache is caught and logged
// before it breaks every subsequent connection's host key verification.
func startCacheHousekeeping() {
	c := cron.New()
	_, err := c.AddFunc("@every 1h", func() {
		cache, err := hostkeys.Load(cfg.KnownHostsPath)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.KnownHostsPath).Msg("host key cache failed to reload")
			return
		}
		_ = cache
		log.Debug().Str("path", cfg.KnownHostsPath).Msg("host key cache verified")
	})
	if err != nil {
		log.Error().Err(err).Msg("schedule host key cache housekeeping")
		return
	}
	c.Start()
}
