package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/term"

	"saldo/internal/ledger"
	"saldo/internal/log"
	"saldo/internal/services"
	"saldo/internal/storage"
	"saldo/internal/worker"
)

// Globals are the flags shared by every command.
type Globals struct {
	DB       string `help:"SQLite database path." env:"SQLITE_DB_PATH" default:"./data/saldo.db" type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL" default:"warn"`
}

type Commands struct {
	Globals

	Migrate    MigrateCmd    `cmd:"" help:"Apply pending database migrations."`
	User       UserCmd       `cmd:"" help:"Manage users."`
	Audit      AuditCmd      `cmd:"" help:"Recompute balances from events and report drift."`
	Currencies CurrenciesCmd `cmd:"" help:"List the currency catalog."`
}

func (g *Globals) logger(w io.Writer) *log.Logger {
	level, err := log.ParseLevel(g.LogLevel)
	if err != nil {
		level = log.DefaultConfig().Level
	}
	return log.New(log.Config{Level: level, Component: log.ComponentApp, Output: w})
}

// open opens and migrates the database.
func (g *Globals) open() (*storage.DB, error) {
	db, err := storage.NewDB(g.DB)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", g.DB, err)
	}
	return db, nil
}

type MigrateCmd struct{}

func (cmd *MigrateCmd) Run(ctx *kong.Context, globals *Globals) error {
	db, err := globals.open()
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, err := storage.SchemaVersion(db)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty, fix it manually", version)
	}
	_, _ = fmt.Fprintf(ctx.Stdout, "%s: schema at version %d\n", globals.DB, version)
	return nil
}

type UserCmd struct {
	Add UserAddCmd `cmd:"" help:"Register a user."`
}

type UserAddCmd struct {
	Name     string `arg:"" help:"Display name."`
	Email    string `arg:"" help:"Login email."`
	Password string `help:"Password (prompted for when omitted)." env:"SALDO_PASSWORD"`
	Currency string `help:"Preferred currency." default:"USD"`
}

func (cmd *UserAddCmd) Run(ctx *kong.Context, globals *Globals) error {
	password := cmd.Password
	if password == "" {
		_, _ = fmt.Fprint(ctx.Stdout, "Password: ")
		var err error
		password, err = readPassword(os.Stdin)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		_, _ = fmt.Fprintln(ctx.Stdout)
	}

	db, err := globals.open()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := globals.logger(ctx.Stderr)
	users := services.NewUsers(db, services.NewCurrencies(db, time.Minute, logger), logger)
	u, err := users.Register(context.Background(), services.RegisterInput{
		Name:              cmd.Name,
		Email:             cmd.Email,
		Password:          password,
		PreferredCurrency: cmd.Currency,
	})
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(ctx.Stdout, "User %s created with ID %d\n", u.Email, u.ID)
	return nil
}

// readPassword reads without echo from a terminal, or one line otherwise.
func readPassword(stdin io.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return strings.TrimRight(scanner.Text(), "\r"), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

type AuditCmd struct {
	User    int64 `help:"Audit only this user id."`
	Workers int   `help:"Users audited concurrently." default:"4"`
}

var errDrift = errors.New("balance drift detected")

func (cmd *AuditCmd) Run(ctx *kong.Context, globals *Globals) error {
	db, err := globals.open()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := globals.logger(ctx.Stderr)
	users := services.NewUsers(db, services.NewCurrencies(db, time.Minute, logger), logger)
	auditor := worker.NewAuditor(ledger.NewEngine(db, ledger.WithLogger(logger)), users, cmd.Workers, logger)

	drifted := map[int64][]ledger.Drift{}
	audited := 1
	if cmd.User > 0 {
		drifts, err := auditor.CheckUser(context.Background(), cmd.User)
		if err != nil {
			return err
		}
		if len(drifts) > 0 {
			drifted[cmd.User] = drifts
		}
	} else {
		report, err := auditor.AuditAll(context.Background())
		if err != nil {
			return err
		}
		audited, drifted = report.Users, report.Drifted
	}

	for userID, drifts := range drifted {
		for _, d := range drifts {
			_, _ = fmt.Fprintf(ctx.Stdout, "user %d: %s\n", userID, d)
		}
	}
	if len(drifted) > 0 {
		return fmt.Errorf("%w for %d of %d user(s)", errDrift, len(drifted), audited)
	}
	_, _ = fmt.Fprintf(ctx.Stdout, "%d user(s) audited, balances consistent\n", audited)
	return nil
}

type CurrenciesCmd struct{}

func (cmd *CurrenciesCmd) Run(ctx *kong.Context, globals *Globals) error {
	db, err := globals.open()
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := services.NewCurrencies(db, time.Minute, globals.logger(ctx.Stderr)).List(context.Background())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(ctx.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CODE\tSYMBOL\tDECIMALS\tNAME")
	for _, c := range list {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.Code, c.Symbol, c.Decimals, c.Name)
	}
	return tw.Flush()
}
