package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	app "github.com/dundeezhang/UWGitRank/internal/app"
	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/pkg/logger"
)

const leaderboardLimitDefault = 25

var errNoService = errors.New("service not opened")

const (
	debugFlag  = "debug"
	idFlag     = "id"
	handleFlag = "handle"
	windowFlag = "window"
	limitFlag  = "limit"
	offsetFlag = "offset"
)

// Flags are built per command tree; urfave flags keep parse state.

func userIDFlag() *cli.StringFlag {
	return &cli.StringFlag{Name: idFlag, Usage: "User id", Required: true}
}

func requiredHandleFlag() *cli.StringFlag {
	return &cli.StringFlag{Name: handleFlag, Usage: "GitHub handle", Required: true}
}

// session holds the service opened in Before and released in After.
type session struct {
	open func(ctx context.Context) (*app.Service, error)
	svc  *app.Service
}

func (r *session) service() (*app.Service, error) {
	if r.svc == nil {
		return nil, errNoService
	}
	return r.svc, nil
}

func newApp(open func(ctx context.Context) (*app.Service, error)) *cli.Command {
	rt := &session{open: open}
	return &cli.Command{
		Name:    "rankctl",
		Version: version,
		Usage:   "Operate the contribution ranking store",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: debugFlag, Usage: "Prints verbose logs (optional, default: false)"},
		},
		Commands: []*cli.Command{
			syncCmd(rt),
			refreshCmd(rt),
			userCmd(rt),
			leaderboardCmd(rt),
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if len(cmd.Args().Slice()) == 0 {
				return ctx, nil
			}
			svc, err := rt.open(ctx)
			if err != nil {
				return ctx, err
			}
			rt.svc = svc
			if cmd.Bool(debugFlag) {
				_ = logger.SetLevelString("debug")
			}
			return ctx, nil
		},
		After: func(ctx context.Context, _ *cli.Command) error {
			if rt.svc == nil {
				return nil
			}
			err := rt.svc.Stop(ctx)
			rt.svc = nil
			return err
		},
	}
}

func syncCmd(rt *session) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Fetch GitHub metrics and rescore",
		Commands: []*cli.Command{
			{
				Name:  "all",
				Usage: "Sync every verified user with a linked handle",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					svc, err := rt.service()
					if err != nil {
						return err
					}
					sum, err := svc.Syncer().SyncAll(ctx)
					if err != nil {
						return fmt.Errorf("sync all: %w", err)
					}
					return printJSON(cmd, sum)
				},
			},
			{
				Name:  "user",
				Usage: "Sync one user",
				Flags: []cli.Flag{userIDFlag(), requiredHandleFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					svc, err := rt.service()
					if err != nil {
						return err
					}
					snap, err := svc.Syncer().SyncUser(ctx, cmd.String(idFlag), cmd.String(handleFlag))
					if err != nil {
						return fmt.Errorf("sync user: %w", err)
					}
					return printJSON(cmd, snap)
				},
			},
		},
	}
}

func refreshCmd(rt *session) *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Recompute the leaderboard view",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc, err := rt.service()
			if err != nil {
				return err
			}
			if err := svc.Leaderboard().Refresh(ctx); err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			return printJSON(cmd, map[string]any{
				"status": "refreshed",
				"rows":   svc.Leaderboard().Count(),
			})
		},
	}
}

func userCmd(rt *session) *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage user records",
		Commands: []*cli.Command{
			{
				Name:  "upsert",
				Usage: "Create or replace a user",
				Flags: []cli.Flag{
					userIDFlag(),
					&cli.StringFlag{Name: "username", Usage: "Display username", Required: true},
					&cli.StringFlag{Name: handleFlag, Usage: "GitHub handle (optional)"},
					&cli.BoolFlag{Name: "verified", Usage: "Mark the user verified"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					svc, err := rt.service()
					if err != nil {
						return err
					}
					u := model.User{
						ID:           cmd.String(idFlag),
						Username:     cmd.String("username"),
						GitHubHandle: strings.TrimSpace(cmd.String(handleFlag)),
						Verified:     cmd.Bool("verified"),
					}
					if err := svc.UpsertUser(ctx, u); err != nil {
						return fmt.Errorf("upsert user: %w", err)
					}
					return printJSON(cmd, u)
				},
			},
			{
				Name:  "seed",
				Usage: "Create a verified user per handle, named after the handle",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: handleFlag, Usage: "GitHub handle (repeatable)", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					svc, err := rt.service()
					if err != nil {
						return err
					}
					var users []model.User
					for _, h := range cmd.StringSlice(handleFlag) {
						if h = strings.TrimSpace(h); h == "" {
							continue
						}
						u := model.User{ID: uuid.NewString(), Username: h, GitHubHandle: h, Verified: true}
						if err := svc.UpsertUser(ctx, u); err != nil {
							return fmt.Errorf("seed %s: %w", h, err)
						}
						users = append(users, u)
					}
					return printJSON(cmd, users)
				},
			},
		},
	}
}

func leaderboardCmd(rt *session) *cli.Command {
	return &cli.Command{
		Name:  "leaderboard",
		Usage: "Print a page of the ranking",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: windowFlag, Usage: "Ranking window [7d, 30d, 1y, all]", Value: string(model.WindowAll)},
			&cli.IntFlag{Name: limitFlag, Usage: "Number of rows to print", Value: leaderboardLimitDefault},
			&cli.IntFlag{Name: offsetFlag, Usage: "Rows to skip"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc, err := rt.service()
			if err != nil {
				return err
			}
			w, err := model.ParseWindow(cmd.String(windowFlag))
			if err != nil {
				return err
			}
			page, err := svc.Leaderboard().TopN(ctx, w, cmd.Int(limitFlag), cmd.Int(offsetFlag))
			if err != nil {
				return fmt.Errorf("leaderboard: %w", err)
			}
			return printJSON(cmd, page)
		},
	}
}

func printJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
