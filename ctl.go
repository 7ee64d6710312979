package main

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"skillswap/protocol"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show active connections of a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl("stats")
	},
}

var announceCmd = &cobra.Command{
	Use:   "announce <text>",
	Short: "Send a text notification to every registered user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl("announce", args[0])
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown [reason]",
	Short: "Disconnect every client, flush state and stop the server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl("shutdown", args...)
	},
}

func runControl(command string, fields ...string) error {
	reply, err := sendControl(cfg.ControlSocket, command, fields...)
	if err != nil {
		return err
	}

	switch reply.Type {
	case "ok":
		color.New(color.FgGreen, color.Bold).Print("ok ")
		fmt.Println(reply.Field(0))
		return nil
	default:
		color.New(color.FgRed, color.Bold).Print("failed ")
		fmt.Println(reply.Field(0))
		return errors.Errorf("%s failed", command)
	}
}

func sendControl(path, command string, fields ...string) (*protocol.Packet, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reach server at %s", path)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	if _, err := conn.Write([]byte(protocol.FormatPacket(command, fields...))); err != nil {
		return nil, errors.Wrap(err, "failed to send command")
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return nil, errors.Wrap(err, "failed to read reply")
	}
	return protocol.ParsePacket(line)
}
