// Command streakctl runs streak maintenance against the configured database.
//
//	streakctl recompute -user u1 -user u2
//	streakctl recompute -all [-limit 100] [-dry-run]
//	streakctl token -user u1 [-ttl 1h]
//
// It reads the same environment (and .env) as the server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "time/tzdata"

	"github.com/sakif/nutrilog/internal/auth"
	"github.com/sakif/nutrilog/internal/config"
	"github.com/sakif/nutrilog/internal/server"
	"github.com/sakif/nutrilog/internal/streak"
)

type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }
func (l *idList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	os.Exit(run(context.Background(), cfg, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: streakctl <recompute|token> [flags]")
		return 2
	}

	var err error
	switch args[0] {
	case "recompute":
		err = recompute(ctx, cfg, args[1:], stdout, stderr)
	case "token":
		err = token(cfg, args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func recompute(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("recompute", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var users idList
	var all, dryRun bool
	var limit int
	fs.Var(&users, "user", "user id to recompute (repeatable)")
	fs.BoolVar(&all, "all", false, "recompute every known user")
	fs.BoolVar(&dryRun, "dry-run", false, "list the users without writing")
	fs.IntVar(&limit, "limit", 0, "limit number of users processed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if all == (len(users) > 0) {
		return errors.New("pass either -all or at least one -user")
	}

	store, err := server.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ids := []string(users)
	if all {
		ids, err = store.ListUserIDs(ctx)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	logger := cfg.NewLogger()
	days := streak.NewResolver(store, nil, cfg.DefaultTimezone, logger)
	engine := streak.NewEngine(store, days, nil, logger)

	done, failed := 0, 0
	for _, id := range ids {
		if dryRun {
			fmt.Fprintf(stdout, "[dry-run] recompute user_id=%s today=%s\n", id, days.Today(ctx, id))
			continue
		}
		if err := engine.RecomputeAll(ctx, id); err != nil {
			failed++
			logger.Error("recompute failed", slog.String("user_id", id), slog.String("error", err.Error()))
			continue
		}
		done++
	}

	fmt.Fprintf(stdout, "done; recomputed=%d failed=%d\n", done, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d users failed", failed, len(ids))
	}
	return nil
}

func token(cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	user := fs.String("user", "", "subject (user id) of the token")
	ttl := fs.Duration("ttl", auth.DefaultTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("-user is required")
	}
	if *ttl <= 0 || *ttl > 30*24*time.Hour {
		return fmt.Errorf("-ttl must be between 0 and 720h, got %s", *ttl)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return err
	}
	tok, err := tokens.GenerateWithDuration(*user, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, tok)
	return nil
}
