package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ashureev/pal/internal/app"
	"github.com/ashureev/pal/internal/assistant"
	"github.com/ashureev/pal/internal/domain"
	"github.com/ashureev/pal/internal/mcpserver"
)

// userFlag selects the acting user for every command.
var userFlag = &cli.StringFlag{Name: "user", Aliases: []string{"u"}, Value: mcpserver.DefaultUserID, Usage: "Acting user ID", EnvVars: []string{"PAL_USER"}}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(a *app.App) *cli.App {
	cliApp := &cli.App{
		Name:    "palctl",
		Usage:   "Talk to the Pal assistant and inspect its data",
		Version: Version,
		Commands: []*cli.Command{
			chatCmd(a),
			tasksCmd(a),
			historyCmd(a),
			factsCmd(a),
			mcpCmd(a),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

// chatCmd sends one utterance through the orchestrator.
func chatCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "Send a message to the assistant",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			userFlag,
			&cli.StringFlag{Name: "chat-id", Aliases: []string{"c"}, Usage: "Conversation to continue"},
			&cli.StringFlag{Name: "name", Usage: "Profile name to store"},
			&cli.StringFlag{Name: "email", Usage: "Profile email to store"},
		},
		Action: func(c *cli.Context) error {
			message := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if message == "" {
				return cli.Exit("message is required", 1)
			}

			reply := a.Orchestrator.Handle(c.Context, assistant.Request{
				Utterance:      message,
				ConversationID: c.String("chat-id"),
				Identity:       domain.Identity{UserID: c.String("user")},
				ProfileName:    c.String("name"),
				ProfileEmail:   c.String("email"),
				Channel:        "cli",
			})
			if reply.Status == assistant.StatusConversationNotFound {
				return cli.Exit(reply.Text, 1)
			}
			return outputJSON(c.App.Writer, reply)
		},
	}
}

// tasksCmd lists or removes reminder tasks.
func tasksCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "List tasks, or delete them",
		Flags: []cli.Flag{
			userFlag,
			&cli.Int64Flag{Name: "delete", Usage: "Delete the task with this ID"},
			&cli.BoolFlag{Name: "clear-completed", Usage: "Delete tasks that already fired"},
		},
		Action: func(c *cli.Context) error {
			userID := c.String("user")

			if id := c.Int64("delete"); id > 0 {
				deleted, err := a.Repo.DeleteTask(c.Context, userID, id)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				if !deleted {
					return cli.Exit(fmt.Sprintf("task %d not found", id), 1)
				}
				return outputJSON(c.App.Writer, map[string]any{"deleted": true, "task_id": id})
			}

			if c.Bool("clear-completed") {
				n, err := a.Repo.DeleteCompletedTasks(c.Context, userID)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				return outputJSON(c.App.Writer, map[string]any{"deleted": n})
			}

			tasks, err := a.Repo.ListTasks(c.Context, userID)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if tasks == nil {
				tasks = []domain.Task{}
			}
			return outputJSON(c.App.Writer, map[string]any{"tasks": tasks})
		},
	}
}

// historyCmd prints recent exchanges or the conversation list.
func historyCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent exchanges, newest first",
		Flags: []cli.Flag{
			userFlag,
			&cli.StringFlag{Name: "chat-id", Aliases: []string{"c"}, Usage: "Limit to one conversation"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 10, Usage: "Maximum exchanges"},
			&cli.BoolFlag{Name: "conversations", Usage: "List conversations instead"},
		},
		Action: func(c *cli.Context) error {
			userID := c.String("user")

			if c.Bool("conversations") {
				convs, err := a.Repo.ListConversations(c.Context, userID)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				if convs == nil {
					convs = []domain.ConversationSummary{}
				}
				return outputJSON(c.App.Writer, map[string]any{"conversations": convs})
			}

			limit := c.Int("limit")
			if limit <= 0 {
				return cli.Exit("limit must be > 0", 1)
			}
			entries := a.Orchestrator.RecentHistory(c.Context, userID, c.String("chat-id"), limit)
			return outputJSON(c.App.Writer, map[string]any{"history": entries})
		},
	}
}

// factsCmd prints or stores knowledge-base facts.
func factsCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "facts",
		Usage: "Show facts, or store one with --set key=value",
		Flags: []cli.Flag{
			userFlag,
			&cli.StringSliceFlag{Name: "set", Aliases: []string{"s"}, Usage: "Store a fact (key=value), repeatable"},
		},
		Action: func(c *cli.Context) error {
			userID := c.String("user")

			for _, kv := range c.StringSlice("set") {
				key, value, ok := strings.Cut(kv, "=")
				key, value = strings.TrimSpace(key), strings.TrimSpace(value)
				if !ok || key == "" || value == "" {
					return cli.Exit(fmt.Sprintf("invalid fact %q, want key=value", kv), 1)
				}
				if err := a.Repo.PutFact(c.Context, userID, key, value); err != nil {
					return cli.Exit(err.Error(), 1)
				}
			}

			facts, err := a.Repo.GetFacts(c.Context, userID)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if facts == nil {
				facts = map[string]string{}
			}
			return outputJSON(c.App.Writer, map[string]any{"facts": facts})
		},
	}
}

// mcpCmd serves the assistant tools over stdio.
func mcpCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the assistant as MCP tools on stdin/stdout",
		Flags: []cli.Flag{userFlag},
		Action: func(c *cli.Context) error {
			return mcpserver.Run(a.Orchestrator, a.Repo, c.String("user"), Version)
		},
	}
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
