package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:      "todo",
		Usage:     "Keep an ordered todo list in sync across devices",
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Usage:   "Base URL of the todo API",
				Value:   "http://localhost:8080",
				Sources: cli.EnvVars("TODO_API_URL"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token; defaults to the one saved by signin",
				Sources: cli.EnvVars("TODO_TOKEN"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "signup",
				Usage:     "Create an account",
				ArgsUsage: "<email> <password>",
				Action:    runSignUp,
			},
			{
				Name:      "signin",
				Usage:     "Sign in and remember the token",
				ArgsUsage: "<email> <password>",
				Action:    runSignIn,
			},
			{
				Name:   "signout",
				Usage:  "Forget the saved token",
				Action: runSignOut,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "Show tasks in order",
				Action:  runList,
			},
			{
				Name:      "add",
				Usage:     "Add a task at the top of the list",
				ArgsUsage: "<text>",
				Flags:     []cli.Flag{dueFlag()},
				Action:    runAdd,
			},
			{
				Name:      "done",
				Usage:     "Toggle a task's completed flag",
				ArgsUsage: "<task>",
				Action:    runDone,
			},
			{
				Name:      "edit",
				Usage:     "Replace a task's text and due date",
				ArgsUsage: "<task> <text>",
				Flags:     []cli.Flag{dueFlag()},
				Action:    runEdit,
			},
			{
				Name:      "rm",
				Usage:     "Delete a task",
				ArgsUsage: "<task>",
				Action:    runRemove,
			},
			{
				Name:      "move",
				Usage:     "Move a task to another task's position",
				ArgsUsage: "<task> <target>",
				Action:    runMove,
			},
			{
				Name:   "watch",
				Usage:  "Print the list every time it changes",
				Action: runWatch,
			},
		},
		DefaultCommand: "list",
	}
}

func dueFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "due",
		Usage: "Due date as YYYY-MM-DD or RFC 3339",
	}
}
