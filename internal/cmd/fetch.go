package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	quip "github.com/egorkaBurkenya/quip-go"
)

type fetchFunc func(ctx context.Context, c *quip.Client, args []string) (any, error)

// withClient builds a client from the resolved configuration, runs fn and
// prints call statistics when asked to.
func withClient(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, c *quip.Client) error) error {
	c, logger, err := newClient(cmd, v)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer c.Close()

	err = fn(cmd.Context(), c)
	if v.GetBool("stats") {
		if serr := printStats(cmd.ErrOrStderr(), c.Stats()); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

// jsonCommand builds a subcommand that prints the decoded response.
func jsonCommand(v *viper.Viper, use, short string, args cobra.PositionalArgs, fetch fetchFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, v, func(ctx context.Context, c *quip.Client) error {
				result, err := fetch(ctx, c, args)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func newWhoamiCmd(v *viper.Viper) *cobra.Command {
	return jsonCommand(v, "whoami", "Verify the token and show the current user", cobra.NoArgs,
		func(ctx context.Context, c *quip.Client, _ []string) (any, error) {
			ok, err := c.CheckUser(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, errors.New("the API rejected the access token")
			}
			return c.GetCurrentUser(ctx)
		})
}

func newUserCmd(v *viper.Viper) *cobra.Command {
	return jsonCommand(v, "user <id>[,<id>...]", "Show one or more users", cobra.ExactArgs(1),
		func(ctx context.Context, c *quip.Client, args []string) (any, error) {
			return c.GetUser(ctx, args[0])
		})
}

func newFolderCmd(v *viper.Viper) *cobra.Command {
	return jsonCommand(v, "folder <id>", "Show a folder", cobra.ExactArgs(1),
		func(ctx context.Context, c *quip.Client, args []string) (any, error) {
			return c.GetFolder(ctx, args[0])
		})
}

func newFoldersCmd(v *viper.Viper) *cobra.Command {
	return jsonCommand(v, "folders <id>...", "Show several folders", cobra.MinimumNArgs(1),
		func(ctx context.Context, c *quip.Client, args []string) (any, error) {
			return c.GetFolders(ctx, args...)
		})
}

func newThreadCmd(v *viper.Viper) *cobra.Command {
	return jsonCommand(v, "thread <id>", "Show a thread", cobra.ExactArgs(1),
		func(ctx context.Context, c *quip.Client, args []string) (any, error) {
			return c.GetThread(ctx, args[0])
		})
}

func newThreadsCmd(v *viper.Viper) *cobra.Command {
	return jsonCommand(v, "threads <id>...", "Show several threads", cobra.MinimumNArgs(1),
		func(ctx context.Context, c *quip.Client, args []string) (any, error) {
			return c.GetThreads(ctx, args...)
		})
}

func newMessagesCmd(v *viper.Viper) *cobra.Command {
	return jsonCommand(v, "messages <thread-id>", "List the messages of a thread", cobra.ExactArgs(1),
		func(ctx context.Context, c *quip.Client, args []string) (any, error) {
			return c.GetThreadMessages(ctx, args[0])
		})
}

func newBlobCmd(v *viper.Viper) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "blob <thread-id> <blob-id>",
		Short: "Download a thread attachment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, v, func(ctx context.Context, c *quip.Client) error {
				blob, err := c.GetBlob(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return writeBlob(cmd.OutOrStdout(), output, blob)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "file to write to (- for stdout)")
	return cmd
}

func newExportCmd(v *viper.Viper) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:       "export <pdf|docx|xlsx> <thread-id>",
		Short:     "Export a thread as PDF, DOCX or XLSX",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"pdf", "docx", "xlsx"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, v, func(ctx context.Context, c *quip.Client) error {
				blob, err := c.Export(ctx, args[1], args[0])
				if err != nil {
					return err
				}
				return writeBlob(cmd.OutOrStdout(), output, blob)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "file to write to (- for stdout)")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeBlob(stdout io.Writer, path string, blob *quip.Blob) error {
	if path == "" || path == "-" {
		_, err := blob.WriteTo(stdout)
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := blob.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func printStats(w io.Writer, s quip.Stats) error {
	ops := make([]string, 0, len(s.Operations))
	for op := range s.Operations {
		ops = append(ops, string(op))
	}
	sort.Strings(ops)

	if _, err := fmt.Fprintf(w, "calls: %d, errors: %d, rate limited: %d\n", s.TotalCalls, s.TotalErrors, s.RateLimited); err != nil {
		return err
	}
	for _, op := range ops {
		if _, err := fmt.Fprintf(w, "  %s: %d\n", op, s.Operations[quip.Operation(op)]); err != nil {
			return err
		}
	}
	return nil
}
