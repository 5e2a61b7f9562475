package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"samplecart/internal/api"
	"samplecart/internal/bridge"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var names []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print volume attach and removal notifications as they happen",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := apiAddress(ctx)
			if err != nil {
				return err
			}
			token := ""
			if cfg := ctx.configValue(); cfg != nil {
				token = cfg.Paths.APIToken
			}
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			return watchEvents(runCtx, addr, token, names, func(frame api.Frame) {
				if asJSON {
					_ = writeJSON(cmd, frame)
					return
				}
				printFrame(out, frame)
			})
		},
	}
	cmd.Flags().StringSliceVar(&names, "event", []string{bridge.VolumeAttached, bridge.VolumeRemoved}, "Notification names to subscribe to")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw frames as JSON")
	return cmd
}

// apiAddress asks the daemon where its HTTP API listens, falling back to the
// configured bind address.
func apiAddress(ctx *commandContext) (string, error) {
	if client, err := ctx.dialClient(); err == nil {
		status, statusErr := client.Status()
		_ = client.Close()
		if statusErr == nil && status.APIAddress != "" {
			return status.APIAddress, nil
		}
	}
	if cfg := ctx.configValue(); cfg != nil && strings.TrimSpace(cfg.Paths.APIBind) != "" {
		return cfg.Paths.APIBind, nil
	}
	return "", errors.New("daemon HTTP API is disabled; set paths.api_bind")
}

// watchEvents subscribes to names and calls handle for each notification
// frame until ctx ends or the server closes the connection.
func watchEvents(ctx context.Context, addr, token string, names []string, handle func(api.Frame)) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/api/events"}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return errors.New("connect to event stream: unauthorized; check paths.api_token")
		}
		return fmt.Errorf("connect to event stream: %w", err)
	}
	defer conn.Close()

	for _, name := range names {
		if err := conn.WriteJSON(api.ClientMessage{Op: api.OpSubscribe, Name: name}); err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		var frame api.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		switch frame.Name {
		case api.FrameSubscribed, api.FrameUnsubscribed:
			continue
		case api.FrameError:
			return fmt.Errorf("event stream: %s (%s)", frame.Error, frame.Code)
		}
		handle(frame)
	}
}

func printFrame(out io.Writer, frame api.Frame) {
	ts := time.Now().Format("15:04:05")
	switch {
	case frame.Name == bridge.VolumeAttached && frame.Volume != nil:
		fmt.Fprintf(out, "%s #%d attached %s (%s) at %s\n", ts, frame.Seq, frame.Volume.ID, frame.Volume.Name, frame.Volume.MountPath)
	default:
		fmt.Fprintf(out, "%s #%d %s %s\n", ts, frame.Seq, frame.Name, frame.VolumeID)
	}
}

