package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/and161185/safe-comments/internal/bootstrap"
	"github.com/and161185/safe-comments/internal/remote/grpcstore"
)

// Environment variables read when the matching flag is not set.
const (
	envAddr     = "COMMENTS_ADDR"
	envHost     = "COMMENTS_HOST"
	envTopic    = "COMMENTS_TOPIC"
	envUser     = "COMMENTS_USER"
	envPassword = "COMMENTS_PASSWORD"
	envCACert   = "COMMENTS_CACERT"

	defaultAddr = "localhost:8443"
)

type globals struct {
	addr      string
	host      string
	user      string
	caCert    string
	insecure  bool
	plaintext bool
	verbose   bool
	timeout   time.Duration

	log *zap.Logger
}

// resolve fills unset options from the environment.
func (g *globals) resolve() {
	for _, f := range []struct {
		dst *string
		env string
		def string
	}{
		{&g.addr, envAddr, defaultAddr},
		{&g.host, envHost, ""},
		{&g.user, envUser, ""},
		{&g.caCert, envCACert, ""},
	} {
		if *f.dst == "" {
			*f.dst = getenv(f.env)
		}
		if *f.dst == "" {
			*f.dst = f.def
		}
	}
}

func (g *globals) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.timeout)
}

// network builds a store client for the configured account. The password is taken
// from COMMENTS_PASSWORD or prompted for when a user is set.
func (g *globals) network(cmd *cobra.Command) (*grpcstore.Network, error) {
	var password string
	if g.user != "" {
		var err error
		if password, err = readPassword(cmd); err != nil {
			return nil, err
		}
	}
	return grpcstore.New(grpcstore.Config{
		Addr:               g.addr,
		Username:           g.user,
		Password:           password,
		CACert:             g.caCert,
		InsecureSkipVerify: g.insecure,
		Plaintext:          g.plaintext,
	}, g.log), nil
}

func (g *globals) bootstrapConfig() (bootstrap.Config, error) {
	if g.host == "" {
		return bootstrap.Config{}, fmt.Errorf("--host or %s is required", envHost)
	}
	return bootstrap.Config{Host: g.host, RequestOwnContainer: true}, nil
}

func (g *globals) requireUser() error {
	if g.user == "" {
		return fmt.Errorf("--user or %s is required", envUser)
	}
	return nil
}

func readPassword(cmd *cobra.Command) (string, error) {
	if p := getenv(envPassword); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if cmd.InOrStdin() == os.Stdin && term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// topicArg returns the first argument or COMMENTS_TOPIC.
func topicArg(args []string) (string, []string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], args[1:], nil
	}
	if t := getenv(envTopic); t != "" {
		return t, args, nil
	}
	return "", nil, fmt.Errorf("topic argument or %s is required", envTopic)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "commentctl",
		Short:         "Comment topics on a store node",
		Long:          "commentctl manages accounts, public names and comment topics on a store node.\n\nSettings fall back to COMMENTS_ADDR, COMMENTS_HOST, COMMENTS_USER, COMMENTS_PASSWORD, COMMENTS_CACERT and COMMENTS_TOPIC, read from the environment or from .env.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			g.resolve()
			var err error
			if g.verbose {
				g.log, err = zap.NewDevelopment()
			} else {
				cfg := zap.NewProductionConfig()
				cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
				g.log, err = cfg.Build()
			}
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if g.log != nil {
				_ = g.log.Sync()
			}
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&g.addr, "addr", "", "store node address (default "+defaultAddr+")")
	pf.StringVar(&g.host, "host", "", "hosting name, e.g. blog.alice")
	pf.StringVarP(&g.user, "user", "u", "", "account username")
	pf.StringVar(&g.caCert, "cacert", "", "CA certificate (PEM)")
	pf.BoolVar(&g.insecure, "insecure", false, "skip TLS verification (dev)")
	pf.BoolVar(&g.plaintext, "plaintext", false, "connect without TLS (dev)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log to stderr")
	pf.DurationVar(&g.timeout, "timeout", 30*time.Second, "per-command timeout")

	root.AddGroup(
		&cobra.Group{ID: "account", Title: "Account Commands:"},
		&cobra.Group{ID: "topic", Title: "Topic Commands:"},
	)
	for _, c := range []*cobra.Command{newRegisterCmd(g), newNamesCmd(g)} {
		c.GroupID = "account"
		root.AddCommand(c)
	}
	for _, c := range []*cobra.Command{newAuthoriseCmd(g), newListCmd(g), newAddCmd(g), newRmCmd(g), newServeCmd(g)} {
		c.GroupID = "topic"
		root.AddCommand(c)
	}
	root.AddCommand(newVersionCmd())
	return root
}
