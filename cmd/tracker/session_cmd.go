// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/timetrack/internal/api"
	"github.com/ManuGH/timetrack/internal/client"
	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

const requestTimeout = 20 * time.Second

func newStartCmd(g *globalFlags) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "start <project-id>",
		Short: "Start a new session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := g.load()
			if err != nil {
				return err
			}
			c, err := newClient(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			sess, err := c.Start(ctx, api.StartBody{
				ProjectID:   args[0],
				Description: description,
				DeviceID:    cfg.Channel.DeviceID,
			})
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), sess, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "what you are working on")
	return cmd
}

// newTransitionCmd builds pause, resume and stop. The expected version is
// read from the current active session.
func newTransitionCmd(g *globalFlags, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := g.load()
			if err != nil {
				return err
			}
			c, err := newClient(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			sess, err := transition(ctx, c, verb)
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), sess, time.Now())
			return nil
		},
	}
}

func transition(ctx context.Context, c *client.Client, verb string) (*model.Session, error) {
	cur, err := c.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, model.NotFound(verb, "no open session")
	}
	switch verb {
	case "pause":
		return c.Pause(ctx, cur.ID, cur.Version)
	case "resume":
		return c.Resume(ctx, cur.ID, cur.Version)
	case "stop":
		return c.Stop(ctx, cur.ID, cur.Version)
	default:
		return nil, model.Validation(verb, "unknown action %q", verb)
	}
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the open session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := g.load()
			if err != nil {
				return err
			}
			c, err := newClient(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			sess, err := c.GetActive(ctx)
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), sess, time.Now())
			return nil
		},
	}
}

func printSession(w io.Writer, s *model.Session, now time.Time) {
	if s == nil {
		fmt.Fprintln(w, "no open session")
		return
	}
	fmt.Fprintf(w, "session  %s\n", s.ID)
	fmt.Fprintf(w, "state    %s\n", s.State)
	if s.ProjectID != "" {
		fmt.Fprintf(w, "project  %s\n", s.ProjectID)
	}
	if s.Description != "" {
		fmt.Fprintf(w, "about    %s\n", s.Description)
	}
	fmt.Fprintf(w, "elapsed  %s\n", s.Elapsed(now).Truncate(time.Second))
	fmt.Fprintf(w, "version  %d\n", s.Version)
}
