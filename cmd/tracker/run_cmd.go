// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/timetrack/internal/capture"
	"github.com/ManuGH/timetrack/internal/channel"
	"github.com/ManuGH/timetrack/internal/client"
	"github.com/ManuGH/timetrack/internal/config"
	"github.com/ManuGH/timetrack/internal/log"
	"github.com/ManuGH/timetrack/internal/mirror"
	"github.com/ManuGH/timetrack/internal/observer"
	"github.com/ManuGH/timetrack/internal/platform/clock"
)

const (
	uploadBreakerThreshold = 5
	uploadBreakerReset     = 30 * time.Second
	captureCommandTimeout  = 30 * time.Second
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tracking agent",
		Long: `Connects to the daemon's event channel, mirrors the open session and
takes captures while it is active. With --interactive, commands are read
from stdin: start <project> [description], pause, resume, stop, status.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, loader, cfg, interactive, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "read session commands from stdin")
	return cmd
}

// agentParts holds what buildAgent opened so it can be released.
type agentParts struct {
	agent    *observer.Agent
	captures capture.Store
}

func (p *agentParts) Close() error {
	return p.captures.Close()
}

func buildAgent(cfg config.AppConfig, updates <-chan config.AppConfig) (*agentParts, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	sup := channel.NewSupervisor(
		channel.WSDialer{URL: cfg.Channel.URL, IdleTimeout: cfg.Channel.IdleTimeout},
		channel.StaticToken(cfg.Channel.Token),
		cfg.SupervisorSettings(),
		clock.Real{},
	)
	m := mirror.New(c, clock.Real{})

	captures, err := capture.OpenStore("sqlite", cfg.Path(cfg.Capture.DBPath, "captures.db"))
	if err != nil {
		return nil, fmt.Errorf("open capture store: %w", err)
	}
	stager, err := capture.NewFSStager(cfg.Path(cfg.Capture.StagingDir, "staging"))
	if err != nil {
		_ = captures.Close()
		return nil, fmt.Errorf("open staging dir: %w", err)
	}

	var capturer capture.Capturer = capture.PlaceholderCapturer{}
	if len(cfg.Capture.Command) > 0 {
		capturer = capture.ExecCapturer{
			Argv:        cfg.Capture.Command,
			ContentType: "image/png",
			Timeout:     captureCommandTimeout,
		}
	}

	sched, err := capture.NewScheduler(
		cfg.CaptureSettings(),
		capturer,
		stager,
		client.NewUploader(c, uploadBreakerThreshold, uploadBreakerReset),
		captures,
		capture.WithRand(cfg.CaptureRand()),
		capture.WithSealer(capture.DigestSealer{}),
	)
	if err != nil {
		_ = captures.Close()
		return nil, err
	}

	opts := []observer.Option{observer.WithDeviceID(cfg.Channel.DeviceID)}
	if updates != nil {
		opts = append(opts, observer.WithConfigUpdates(updates))
	}
	return &agentParts{
		agent:    observer.New(sup, m, sched, opts...),
		captures: captures,
	}, nil
}

func runAgent(ctx context.Context, loader *config.Loader, cfg config.AppConfig, interactive bool, in io.Reader, out io.Writer) error {
	logger := log.WithComponent("tracker")
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	holder := config.NewHolder(cfg, loader)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable, continuing without hot reload")
	}
	defer holder.Stop()
	updates := make(chan config.AppConfig, 1)
	holder.Subscribe(updates)

	parts, err := buildAgent(cfg, updates)
	if err != nil {
		return err
	}
	defer func() {
		if err := parts.Close(); err != nil {
			logger.Warn().Err(err).Msg("close capture store")
		}
	}()
	agent := parts.agent

	views, cancelWatch := agent.Watch()
	defer cancelWatch()
	go func() {
		for range views {
			printStatus(out, agent.Status())
		}
	}()

	if interactive {
		go console(ctx, agent, in, out)
	}

	logger.Info().
		Str("channel", cfg.Channel.URL).
		Str("api", cfg.Channel.APIURL).
		Str("device", cfg.Channel.DeviceID).
		Msg("tracker started")

	err = agent.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// console executes one command per input line until ctx is done or input ends.
func console(ctx context.Context, agent *observer.Agent, in io.Reader, out io.Writer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if err := execute(ctx, agent, fields, out); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func execute(ctx context.Context, agent *observer.Agent, fields []string, out io.Writer) error {
	var err error
	switch fields[0] {
	case "start":
		if len(fields) < 2 {
			return errors.New("usage: start <project> [description]")
		}
		_, err = agent.Start(ctx, fields[1], strings.Join(fields[2:], " "))
	case "pause":
		_, err = agent.Pause(ctx)
	case "resume":
		_, err = agent.Resume(ctx)
	case "stop":
		_, err = agent.Stop(ctx)
	case "status":
		printStatus(out, agent.Status())
	default:
		err = fmt.Errorf("unknown command %q", fields[0])
	}
	return err
}

func printStatus(w io.Writer, st observer.Status) {
	link := "offline"
	if st.Connected {
		link = "online"
	}
	if st.Session == nil {
		fmt.Fprintf(w, "[%s] no open session\n", link)
		return
	}
	marker := ""
	if st.Unconfirmed {
		marker = " (pending)"
	}
	fmt.Fprintf(w, "[%s] %s %s%s elapsed=%s capturing=%t queued=%d\n",
		link, st.Session.State, st.Session.ProjectID, marker,
		st.Elapsed.Truncate(time.Second), st.Capturing, st.PendingSends)
	if st.LastCapture != nil {
		fmt.Fprintf(w, "         last capture %s at %s\n",
			st.LastCapture.CaptureID, st.LastCapture.CapturedAt.Format(time.RFC3339))
	}
}
