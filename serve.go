package main

import (
	"bufio"
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"skillswap/db"
	"skillswap/logger"
	"skillswap/protocol"
	"skillswap/server"
	"skillswap/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the skillswap TCP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logger.G(ctx)

		database, err := db.New(cfg.DBPath)
		if err != nil {
			return errors.Wrap(err, "failed to initialize database")
		}
		defer database.Close()

		core, err := session.NewCore(ctx, database, cfg)
		if err != nil {
			return errors.Wrap(err, "failed to load state")
		}

		srv := server.New(core, &server.Config{
			Port:         cfg.Port,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})

		listener, err := listenControl(cfg.ControlSocket)
		if err != nil {
			log.WithError(err).Warn("control socket disabled")
		} else {
			defer os.Remove(cfg.ControlSocket)
			defer listener.Close()
			go serveControl(ctx, listener, srv)
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigChan
			log.WithField("signal", sig.String()).Info("received signal, shutting down")
			if err := srv.Shutdown(ctx, "maintenance"); err != nil {
				log.WithError(err).Error("failed to flush state")
			}
		}()

		return srv.Start()
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "TCP port to listen on (overrides config)")
	serveCmd.Flags().String("db-path", "", "SQLite database file (overrides config)")

	viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("db_path", serveCmd.Flags().Lookup("db-path"))
}

func listenControl(path string) (net.Listener, error) {
	os.Remove(path)
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create control socket %s", path)
	}
	logger.L.WithField("path", path).Info("control socket listening")
	return listener, nil
}

func serveControl(ctx context.Context, listener net.Listener, srv *server.Server) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		go handleControlCommand(ctx, srv, conn)
	}
}

// handleControlCommand answers one management request with ok|text or
// fail|text.
func handleControlCommand(ctx context.Context, srv *server.Server, conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	pkt, err := protocol.ParsePacket(line)
	if err != nil {
		conn.Write([]byte(protocol.FormatPacket("fail", "invalid command")))
		return
	}

	log := logger.G(ctx).WithField("command", pkt.Type)
	switch pkt.Type {
	case "stats":
		conn.Write([]byte(protocol.FormatPacket("ok", srv.GetStats())))

	case "announce":
		text := pkt.Field(0)
		if text == "" {
			conn.Write([]byte(protocol.FormatPacket("fail", "announcement text required")))
			return
		}
		n, err := srv.Announce(ctx, text)
		if err != nil {
			log.WithError(err).Warn("announcement partially failed")
			conn.Write([]byte(protocol.FormatPacket("fail", err.Error())))
			return
		}
		conn.Write([]byte(protocol.FormatPacket("ok", "announced to "+strconv.Itoa(n)+" users")))

	case "shutdown":
		reason := pkt.Field(0)
		if reason == "" {
			reason = "maintenance"
		}
		conn.Write([]byte(protocol.FormatPacket("ok", "shutting down")))
		conn.Close()

		log.WithField("reason", reason).Info("shutdown requested")
		if err := srv.Shutdown(ctx, reason); err != nil {
			log.WithError(err).Error("failed to flush state")
		}

	default:
		conn.Write([]byte(protocol.FormatPacket("fail", "unknown command")))
	}
}
