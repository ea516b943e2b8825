// Package admin implements the authctl operator commands: schema
// migration, ledger housekeeping, and bootstrap user management.
package admin

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Anthony-Michael/replyrocket-auth/internal/flagx"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/models"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/services"
)

// ErrUsage is returned for unknown commands and bad command flags.
var ErrUsage = errors.New("usage")

var errEphemeralKey = errors.New("access-token: no signing secret configured; set secret_key (-s or REPLYROCKET_SECRET_KEY) to the server's key")

// Sessions is the part of services.SessionService the commands drive.
type Sessions interface {
	PurgeExpired(ctx context.Context) (int64, error)
	DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error)
	Register(ctx context.Context, email, password, fullName string, opts ...services.RegisterOption) (*models.User, error)
	IssueAccessToken(ctx context.Context, email string) (string, time.Time, error)
}

type Deps struct {
	Sessions Sessions
	Migrate  func(ctx context.Context) error
	Out      io.Writer
	// Password obtains the password for create-user.
	Password func(w io.Writer) (string, error)

	// EphemeralKey means the signing key was generated for this process, so
	// tokens minted here would not verify anywhere else.
	EphemeralKey bool
}

type command struct {
	flags map[string]bool
	help  string
	run   func(ctx context.Context, d Deps, args []string) error
}

var commands = map[string]command{
	"migrate": {
		help: "apply pending schema migrations",
		run:  runMigrate,
	},
	"purge": {
		help: "revoke every expired refresh token",
		run:  runPurge,
	},
	"gc": {
		flags: map[string]bool{"-older-than": true},
		help:  "delete refresh tokens dead for longer than -older-than",
		run:   runGC,
	},
	"create-user": {
		flags: map[string]bool{"-email": true, "-name": true, "-superuser": false},
		help:  "create an active user, prompting for the password",
		run:   runCreateUser,
	},
	"access-token": {
		flags: map[string]bool{"-email": true},
		help:  "print a standalone access token for an active user",
		run:   runAccessToken,
	},
}

// Split finds the command in args and returns its name and the arguments
// after it. Flags before the command belong to the server config.
func Split(args []string) (string, []string) {
	for i, a := range args {
		if _, ok := commands[a]; ok {
			return a, args[i+1:]
		}
	}
	return "", nil
}

// Run executes the command named in args.
func Run(ctx context.Context, d Deps, args []string) error {
	name, rest := Split(args)
	cmd, ok := commands[name]
	if !ok {
		Usage(d.Out)
		return fmt.Errorf("%w: no command given", ErrUsage)
	}
	return cmd.run(ctx, d, flagx.FilterArgs(rest, cmd.flags))
}

// Usage lists the commands.
func Usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "usage: authctl [config flags] <command> [command flags]")
	for _, n := range names {
		fmt.Fprintf(w, "  %-14s %s\n", n, commands[n].help)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUsage, fs.Name(), err)
	}
	return nil
}

func runMigrate(ctx context.Context, d Deps, _ []string) error {
	if err := d.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(d.Out, "migrations applied")
	return nil
}

func runPurge(ctx context.Context, d Deps, _ []string) error {
	n, err := d.Sessions.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.Out, "purged %d expired refresh tokens\n", n)
	return nil
}

func runGC(ctx context.Context, d Deps, args []string) error {
	fs := newFlagSet("gc")
	olderThan := fs.Duration("older-than", 30*24*time.Hour, "minimum age of dead entries")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *olderThan <= 0 {
		return fmt.Errorf("%w: gc: -older-than must be positive", ErrUsage)
	}

	n, err := d.Sessions.DeleteStale(ctx, *olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.Out, "deleted %d stale refresh tokens\n", n)
	return nil
}

func runCreateUser(ctx context.Context, d Deps, args []string) error {
	fs := newFlagSet("create-user")
	email := fs.String("email", "", "email of the new user")
	name := fs.String("name", "", "full name")
	superuser := fs.Bool("superuser", false, "grant the elevated flag")
	if err := parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		return fmt.Errorf("%w: create-user: -email is required", ErrUsage)
	}

	password, err := d.Password(d.Out)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	var opts []services.RegisterOption
	if *superuser {
		opts = append(opts, services.AsSuperuser())
	}
	user, err := d.Sessions.Register(ctx, *email, password, *name, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.Out, "created user %s (%s), superuser=%t\n", user.ID, user.Email, user.IsSuperuser)
	return nil
}

func runAccessToken(ctx context.Context, d Deps, args []string) error {
	fs := newFlagSet("access-token")
	email := fs.String("email", "", "email of the user")
	if err := parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		return fmt.Errorf("%w: access-token: -email is required", ErrUsage)
	}
	if d.EphemeralKey {
		return errEphemeralKey
	}

	token, exp, err := d.Sessions.IssueAccessToken(ctx, *email)
	if err != nil {
		return err
	}
	fmt.Fprintln(d.Out, token)
	fmt.Fprintf(d.Out, "expires at %s\n", exp.Format(time.RFC3339))
	return nil
}
