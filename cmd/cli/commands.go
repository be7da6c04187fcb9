package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/and161185/safe-comments/internal/bootstrap"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/and161185/safe-comments/internal/remote"
	"github.com/and161185/safe-comments/internal/widget"
)

type row struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Date    string `json:"date"`
}

func rows(list model.CommentList) []row {
	out := make([]row, 0, len(list))
	for _, c := range list {
		out = append(out, row{Name: c.Author, Message: c.Body, Date: c.CreatedAt})
	}
	return out
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "commentctl %s (%s)\n", version, buildDate)
		},
	}
}

func newRegisterCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create the account on the store node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.requireUser(); err != nil {
				return err
			}
			nw, err := g.network(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := g.context()
			defer cancel()
			id, err := nw.Register(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

// withNamesApp runs fn with a session authorised on the public names container.
func withNamesApp(cmd *cobra.Command, g *globals, perms []model.Permission, fn func(ctx context.Context, app remote.App) error) error {
	if err := g.requireUser(); err != nil {
		return err
	}
	nw, err := g.network(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := g.context()
	defer cancel()

	appID := g.host
	if appID == "" {
		appID = "commentctl"
	}
	app, err := nw.Initialise(ctx, bootstrap.AppInfo(appID), nil)
	if err != nil {
		return err
	}
	defer app.Free()
	uri, err := app.Authorise(ctx, model.Containers{model.PublicNamesContainer: perms}, model.AuthOptions{})
	if err != nil {
		return err
	}
	if err := app.ConnectAuthorised(ctx, uri); err != nil {
		return err
	}
	return fn(ctx, app)
}

func newNamesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "names",
		Short: "Manage the public names of the account",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List public names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withNamesApp(cmd, g, []model.Permission{model.PermRead}, func(ctx context.Context, app remote.App) error {
				names, err := bootstrap.PublicNames(ctx, app)
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), names)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Add a public name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			perms := []model.Permission{model.PermRead, model.PermInsert}
			return withNamesApp(cmd, g, perms, func(ctx context.Context, app remote.App) error {
				if err := bootstrap.AddPublicName(ctx, app, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	})
	return cmd
}

type authoriseResult struct {
	Topic       string   `json:"topic"`
	Provisioned bool     `json:"provisioned"`
	Owner       bool     `json:"owner"`
	PublicNames []string `json:"public_names"`
}

func newAuthoriseCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "authorise [topic]",
		Aliases: []string{"authorize", "open"},
		Short:   "Open a topic, provisioning the shared object on first use",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, _, err := topicArg(args)
			if err != nil {
				return err
			}
			if err := g.requireUser(); err != nil {
				return err
			}
			cfg, err := g.bootstrapConfig()
			if err != nil {
				return err
			}
			nw, err := g.network(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := g.context()
			defer cancel()

			ready, err := bootstrap.New(nw, cfg, nil, g.log).Authorise(ctx, topic)
			if err != nil {
				return err
			}
			defer ready.Close()
			names, err := ready.PublicNames(ctx)
			if err != nil {
				names = []string{}
			}
			printJSON(cmd.OutOrStdout(), authoriseResult{
				Topic:       topic,
				Provisioned: ready.Provisioned,
				Owner:       ready.IsOwner(ctx),
				PublicNames: names,
			})
			return nil
		},
	}
}

// withController opens topic through a widget controller.
func withController(cmd *cobra.Command, g *globals, topic string, fn func(ctx context.Context, c *widget.Controller) error) error {
	if err := g.requireUser(); err != nil {
		return err
	}
	cfg, err := g.bootstrapConfig()
	if err != nil {
		return err
	}
	nw, err := g.network(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := g.context()
	defer cancel()

	c := widget.NewController(nw, cfg, g.log, nil)
	defer c.Close()
	if err := c.Authorise(ctx, topic); err != nil {
		return err
	}
	return fn(ctx, c)
}

func newListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "list [topic]",
		Aliases: []string{"ls"},
		Short:   "List the comments of a topic, newest first",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, _, err := topicArg(args)
			if err != nil {
				return err
			}
			return withController(cmd, g, topic, func(_ context.Context, c *widget.Controller) error {
				printJSON(cmd.OutOrStdout(), rows(c.Comments()))
				return nil
			})
		},
	}
}

func newAddCmd(g *globals) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add [topic] <message>",
		Short: "Post a comment",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var topic string
			if len(args) == 2 {
				topic, args = args[0], args[1:]
			} else {
				var err error
				if topic, _, err = topicArg(nil); err != nil {
					return err
				}
			}
			if name == "" {
				name = g.user
			}
			return withController(cmd, g, topic, func(ctx context.Context, c *widget.Controller) error {
				list, err := c.Add(ctx, name, args[0])
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), rows(list))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (default: the username)")
	return cmd
}

func newRmCmd(g *globals) *cobra.Command {
	var target row
	cmd := &cobra.Command{
		Use:     "rm [topic]",
		Aliases: []string{"delete"},
		Short:   "Delete a comment (owner only)",
		Long:    "Delete the first comment whose name, message and date all match.",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, _, err := topicArg(args)
			if err != nil {
				return err
			}
			return withController(cmd, g, topic, func(ctx context.Context, c *widget.Controller) error {
				list, err := c.Delete(ctx, model.Comment{Author: target.Name, Body: target.Message, CreatedAt: target.Date})
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), rows(list))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target.Name, "name", "", "comment author")
	cmd.Flags().StringVar(&target.Message, "message", "", "comment text")
	cmd.Flags().StringVar(&target.Date, "date", "", "comment date as listed")
	for _, f := range []string{"name", "message", "date"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
