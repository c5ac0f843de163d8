package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/simonbegg/todo/board"
	"github.com/simonbegg/todo/client"
	"github.com/simonbegg/todo/config"
	"github.com/simonbegg/todo/domain"
)

const dueLayout = "2006-01-02"

var errNotSignedIn = errors.New("not signed in: run 'todo signin <email> <password>'")

func newLogger(cmd *cli.Command) *log.Logger {
	logger := log.New()
	logger.SetOutput(cmd.Root().ErrWriter)
	logger.SetLevel(log.ErrorLevel)
	if cmd.Bool("debug") {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

func newClient(cmd *cli.Command) (*client.Client, error) {
	token := cmd.String("token")
	if token == "" {
		saved, err := loadToken()
		if err != nil {
			return nil, err
		}
		token = saved
	}
	return client.New(cmd.String("api"), token, newLogger(cmd)), nil
}

// newCore builds a Core over c. TODO_WRITE_LIMIT caps the concurrent
// order writes of one move.
func newCore(c *client.Client, notifier board.ChangeNotifier, reporter board.Reporter) (*board.Core, error) {
	limit, err := config.Int("TODO_WRITE_LIMIT", board.DefaultWriteLimit)
	if err != nil {
		return nil, err
	}
	return board.New(board.Config{
		Store:      c,
		Notifier:   notifier,
		Session:    c,
		Reporter:   reporter,
		Logger:     c.Logger,
		WriteLimit: limit,
	}), nil
}

func signInHint(err error) error {
	if errors.Is(err, domain.ErrAuthRequired) {
		return errNotSignedIn
	}
	return err
}

// mount builds a Core over the API and loads the list once. Only watch
// keeps a change subscription open.
func mount(ctx context.Context, cmd *cli.Command) (*board.Core, error) {
	c, err := newClient(cmd)
	if err != nil {
		return nil, err
	}
	core, err := newCore(c, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := core.Mount(ctx); err != nil {
		return nil, signInHint(err)
	}
	return core, nil
}

func credentials(cmd *cli.Command) (domain.Credentials, error) {
	if cmd.Args().Len() != 2 {
		return domain.Credentials{}, fmt.Errorf("usage: todo %s <email> <password>", cmd.Name)
	}
	return domain.Credentials{Email: cmd.Args().Get(0), Password: cmd.Args().Get(1)}, nil
}

func runSignUp(ctx context.Context, cmd *cli.Command) error {
	creds, err := credentials(cmd)
	if err != nil {
		return err
	}
	c := client.New(cmd.String("api"), "", newLogger(cmd))
	if _, err := c.SignUp(ctx, creds); err != nil {
		return fmt.Errorf("sign up: %w", err)
	}
	res, err := c.SignIn(ctx, creds)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	if err := saveToken(res.Token); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "Signed up as %s.\n", creds.Email)
	return nil
}

func runSignIn(ctx context.Context, cmd *cli.Command) error {
	creds, err := credentials(cmd)
	if err != nil {
		return err
	}
	c := client.New(cmd.String("api"), "", newLogger(cmd))
	res, err := c.SignIn(ctx, creds)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	if err := saveToken(res.Token); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "Signed in until %s.\n", res.ExpiresAt.Local().Format(time.DateTime))
	return nil
}

func runSignOut(_ context.Context, cmd *cli.Command) error {
	if err := removeToken(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, "Signed out.")
	return nil
}

func runList(ctx context.Context, cmd *cli.Command) error {
	core, err := mount(ctx, cmd)
	if err != nil {
		return err
	}
	return printTasks(cmd.Root().Writer, core.Items())
}

func runAdd(ctx context.Context, cmd *cli.Command) error {
	text := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return errors.New("usage: todo add <text>")
	}
	due, err := parseDue(cmd.String("due"))
	if err != nil {
		return err
	}
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	core, err := newCore(c, nil, nil)
	if err != nil {
		return err
	}
	task, err := core.Insert(ctx, text, due)
	if err != nil {
		return signInHint(err)
	}
	fmt.Fprintf(cmd.Root().Writer, "Added %s.\n", task.ID)
	return nil
}

func runDone(ctx context.Context, cmd *cli.Command) error {
	core, err := mount(ctx, cmd)
	if err != nil {
		return err
	}
	id, err := resolveRef(core.Items(), cmd.Args().First())
	if err != nil {
		return err
	}
	return core.ToggleCompleted(ctx, id)
}

func runEdit(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() < 2 {
		return errors.New("usage: todo edit <task> <text>")
	}
	due, err := parseDue(cmd.String("due"))
	if err != nil {
		return err
	}
	core, err := mount(ctx, cmd)
	if err != nil {
		return err
	}
	id, err := resolveRef(core.Items(), cmd.Args().First())
	if err != nil {
		return err
	}
	return core.Edit(ctx, id, strings.Join(cmd.Args().Tail(), " "), due)
}

func runRemove(ctx context.Context, cmd *cli.Command) error {
	core, err := mount(ctx, cmd)
	if err != nil {
		return err
	}
	id, err := resolveRef(core.Items(), cmd.Args().First())
	if err != nil {
		return err
	}
	return core.Remove(ctx, id)
}

func runMove(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return errors.New("usage: todo move <task> <target>")
	}
	core, err := mount(ctx, cmd)
	if err != nil {
		return err
	}
	items := core.Items()
	source, err := resolveRef(items, cmd.Args().Get(0))
	if err != nil {
		return err
	}
	target, err := resolveRef(items, cmd.Args().Get(1))
	if err != nil {
		return err
	}
	core.BeginDrag(source)
	if err := core.CompleteDrag(ctx, source, target); err != nil {
		fmt.Fprintln(cmd.Root().ErrWriter, "Move failed; showing the saved order.")
		_ = printTasks(cmd.Root().Writer, core.Items())
		return err
	}
	return printTasks(cmd.Root().Writer, core.Items())
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer
	reporter := board.ReporterFunc(func(err error) {
		fmt.Fprintln(cmd.Root().ErrWriter, "error:", err)
	})
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	core, err := newCore(c, c, reporter)
	if err != nil {
		return err
	}
	core.OnChange(func(items []domain.Task) {
		fmt.Fprintf(out, "--- %s\n", time.Now().Format(time.TimeOnly))
		_ = printTasks(out, items)
	})
	if err := core.Mount(ctx); err != nil {
		return signInHint(err)
	}
	<-ctx.Done()
	return core.Unmount()
}

// resolveRef accepts a task id or a 1-based position in the list.
func resolveRef(items []domain.Task, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("missing task")
	}
	if domain.IndexOf(items, ref) >= 0 {
		return ref, nil
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(items) {
		return items[n-1].ID, nil
	}
	return "", fmt.Errorf("%w: %s", domain.ErrTaskNotFound, ref)
}

func parseDue(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation(dueLayout, raw, time.Local); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid due date %q", raw)
	}
	return &t, nil
}

func printTasks(w io.Writer, items []domain.Task) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "No tasks.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tDONE\tDUE\tTEXT\tID")
	for i, t := range items {
		done := " "
		if t.Completed {
			done = "x"
		}
		due := "-"
		if t.DueDate != nil {
			due = t.DueDate.Local().Format(dueLayout)
		}
		fmt.Fprintf(tw, "%d\t[%s]\t%s\t%s\t%s\n", i+1, done, due, t.Text, t.ID)
	}
	return tw.Flush()
}
