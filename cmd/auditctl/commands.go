package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/godamri/helix-audit/audit"
	"github.com/godamri/helix-audit/crypto"
	"github.com/godamri/helix-audit/database"
	"github.com/godamri/helix-audit/store"
)

// opener connects to the audit store. It returns the store and its closer.
type opener func(ctx context.Context, dsn string) (audit.Store, func() error, error)

func openPostgres(ctx context.Context, dsn string) (audit.Store, func() error, error) {
	db, err := database.NewPostgres(ctx, database.Config{
		DSN:          dsn,
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	}, "auditctl")
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgres(db), db.Close, nil
}

// Command is one auditctl subcommand.
type Command struct {
	Name        string
	Description string
	Flags       *flag.FlagSet
	Run         func(ctx context.Context, cmd *Command, out io.Writer) error

	dsn        *string
	entityType *string
	entityID   *string
	format     *string
	open       opener
}

func newQueryCommand(name, description string, open opener, query func(ctx context.Context, h *audit.History) ([]audit.Record, error)) *Command {
	cmd := &Command{
		Name:        name,
		Description: description,
		Flags:       flag.NewFlagSet(name, flag.ContinueOnError),
		open:        open,
	}
	cmd.dsn = cmd.Flags.String("dsn", os.Getenv("DB_DSN"), "Postgres DSN (default $DB_DSN)")
	cmd.entityType = cmd.Flags.String("type", "", "Entity type, e.g. Book")
	cmd.entityID = cmd.Flags.String("id", "", "Entity id")
	cmd.format = cmd.Flags.String("format", "table", "Output format: table or json")
	cmd.Run = func(ctx context.Context, cmd *Command, out io.Writer) error {
		if *cmd.entityType == "" || *cmd.entityID == "" {
			return errors.New("-type and -id are required")
		}
		if *cmd.dsn == "" {
			return errors.New("-dsn or DB_DSN is required")
		}

		st, closeStore, err := cmd.open(ctx, *cmd.dsn)
		if err != nil {
			return err
		}
		defer closeStore()

		a, err := audit.New(audit.Config{}, st)
		if err != nil {
			return err
		}
		recs, err := query(ctx, a.History(*cmd.entityType, *cmd.entityID))
		if err != nil {
			return err
		}
		return printRecords(out, *cmd.format, recs)
	}
	return cmd
}

func newHashSecretCommand() *Command {
	cmd := &Command{
		Name:        "hash-secret",
		Description: "Print the bcrypt hash of a gateway secret for AUTH_GATEWAY_SECRET_HASH",
		Flags:       flag.NewFlagSet("hash-secret", flag.ContinueOnError),
	}
	secret := cmd.Flags.String("secret", "", "Secret to hash")
	cost := cmd.Flags.Int("cost", 12, "bcrypt cost")
	cmd.Run = func(_ context.Context, _ *Command, out io.Writer) error {
		hash, err := crypto.NewHasher(crypto.HashConfig{Cost: *cost}).HashSecret(*secret)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, hash)
		return err
	}
	return cmd
}

func commands(open opener) map[string]*Command {
	one := func(get func(ctx context.Context, h *audit.History) (*audit.Record, error)) func(context.Context, *audit.History) ([]audit.Record, error) {
		return func(ctx context.Context, h *audit.History) ([]audit.Record, error) {
			rec, err := get(ctx, h)
			if err != nil || rec == nil {
				return nil, err
			}
			return []audit.Record{*rec}, nil
		}
	}

	cmds := []*Command{
		newQueryCommand("list", "List every audit record of an entity, oldest first", open,
			func(ctx context.Context, h *audit.History) ([]audit.Record, error) { return h.All(ctx) }),
		newQueryCommand("first", "Show the oldest audit record of an entity", open,
			one(func(ctx context.Context, h *audit.History) (*audit.Record, error) { return h.First(ctx) })),
		newQueryCommand("last", "Show the newest audit record of an entity", open,
			one(func(ctx context.Context, h *audit.History) (*audit.Record, error) { return h.Last(ctx) })),
		newHashSecretCommand(),
	}

	out := make(map[string]*Command, len(cmds))
	for _, c := range cmds {
		out[c.Name] = c
	}
	return out
}

func run(ctx context.Context, args []string, out io.Writer, open opener) error {
	cmds := commands(open)
	if len(args) == 0 {
		usage(out, cmds)
		return errors.New("missing command")
	}

	cmd, ok := cmds[args[0]]
	if !ok {
		usage(out, cmds)
		return fmt.Errorf("unknown command %q", args[0])
	}
	cmd.Flags.SetOutput(out)
	if err := cmd.Flags.Parse(args[1:]); err != nil {
		return err
	}
	return cmd.Run(ctx, cmd, out)
}

func usage(out io.Writer, cmds map[string]*Command) {
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out, "Usage: auditctl <command> [flags]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	for _, name := range names {
		fmt.Fprintf(out, "  %-12s %s\n", name, cmds[name].Description)
	}
}

func printRecords(out io.Writer, format string, recs []audit.Record) error {
	if recs == nil {
		recs = []audit.Record{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	case "table":
		if len(recs) == 0 {
			_, err := fmt.Fprintln(out, "no audit history")
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tEVENT\tACTOR\tOLD\tNEW\tCREATED")
		for _, r := range recs {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Event, actor(r), compact(r.OldValues), compact(r.NewValues),
				r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func actor(r audit.Record) string {
	if r.ActorID == nil {
		return "-"
	}
	if r.ActorType == nil {
		return *r.ActorID
	}
	return *r.ActorType + ":" + *r.ActorID
}

func compact(v audit.Values) string {
	if v == nil {
		return "-"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return string(b)
}
