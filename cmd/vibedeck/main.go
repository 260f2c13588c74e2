package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vibedeck/vibedeck/internal/backend"
	"github.com/vibedeck/vibedeck/internal/config"
	"github.com/vibedeck/vibedeck/internal/dispatch"
	"github.com/vibedeck/vibedeck/internal/isolation"
)

type rootOptions struct {
	serverURL  string
	user       string
	headerName string
	timeout    time.Duration
	configPath string
	config     config.Config
}

func (r *rootOptions) prepare() error {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return err
	}
	r.config = cfg
	if r.headerName == "" {
		r.headerName = cfg.Server.IdentityHeader
	}
	if r.headerName == "" {
		r.headerName = "X-Vibedeck-User"
	}
	return nil
}

// request performs one API call against vibedeckd, attaching the identity
// header when a user is set.
func (r *rootOptions) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(r.serverURL, "/")+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.user != "" {
		req.Header.Set(r.headerName, r.user)
	}
	return http.DefaultClient.Do(req)
}

func decodeOrFail(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "vibedeck",
		Short: "CLI for the vibedeck session service",
	}
	defaultConfig := os.Getenv("VIBEDECK_CONFIG")
	if defaultConfig == "" {
		defaultConfig = config.DefaultConfigPath()
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to vibedeck config file")
	rootCmd.PersistentFlags().StringVar(&opts.serverURL, "server", "http://127.0.0.1:8787", "vibedeckd base URL")
	rootCmd.PersistentFlags().StringVar(&opts.user, "user", "", "identity to act as")
	rootCmd.PersistentFlags().StringVar(&opts.headerName, "identity-header", "", "identity header name (defaults to config)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		return opts.prepare()
	}

	rootCmd.AddCommand(newSessionsCmd(opts))
	rootCmd.AddCommand(newSendCmd(opts))
	rootCmd.AddCommand(newNewCmd(opts))
	rootCmd.AddCommand(newWatchCmd(opts))
	rootCmd.AddCommand(newContainerCmd(opts))
	rootCmd.AddCommand(newAttachCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newSessionsCmd(root *rootOptions) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session operations",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()
			resp, err := root.request(ctx, "GET", "/api/sessions", nil)
			if err != nil {
				return err
			}
			var out struct {
				Sessions []struct {
					ID          string `json:"id"`
					LastMessage string `json:"last_message"`
					Subagent    bool   `json:"subagent"`
				} `json:"sessions"`
			}
			if err := decodeOrFail(resp, &out); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tLAST MESSAGE\tKIND")
			for _, s := range out.Sessions {
				kind := "session"
				if s.Subagent {
					kind = "subagent"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.LastMessage, kind)
			}
			return w.Flush()
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()
			resp, err := root.request(ctx, "GET", "/api/sessions/"+args[0], nil)
			if err != nil {
				return err
			}
			var out struct {
				Messages []struct {
					Type      string `json:"type"`
					Timestamp string `json:"timestamp"`
					Text      string `json:"text"`
				} `json:"messages"`
			}
			if err := decodeOrFail(resp, &out); err != nil {
				return err
			}
			for _, m := range out.Messages {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n%s\n\n", m.Timestamp, m.Type, m.Text)
			}
			return nil
		},
	}

	var ownerUsersDir string
	ownerCmd := &cobra.Command{
		Use:   "owner <transcript-path>",
		Short: "Resolve which user owns a transcript path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			usersDir := ownerUsersDir
			if usersDir == "" {
				usersDir = root.config.Isolation.UsersDir
			}
			if usersDir == "" {
				return fmt.Errorf("users directory is required (--users-dir or config)")
			}
			owner := isolation.SessionOwner(args[0], usersDir)
			if owner == "" {
				return fmt.Errorf("path is outside any user subtree")
			}
			fmt.Fprintln(cmd.OutOrStdout(), owner)
			return nil
		},
	}
	ownerCmd.Flags().StringVar(&ownerUsersDir, "users-dir", "", "base directory of per-user subtrees")

	sessionsCmd.AddCommand(listCmd)
	sessionsCmd.AddCommand(showCmd)
	sessionsCmd.AddCommand(ownerCmd)
	return sessionsCmd
}

func newSendCmd(root *rootOptions) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "send <session-id>",
		Short: "Send a message to an existing session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := resolveMessage(message, cmd.InOrStdin())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()
			resp, err := root.request(ctx, "POST", "/api/sessions/"+args[0]+"/send", map[string]string{"message": msg})
			if err != nil {
				return err
			}
			return printDispatchResult(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message text; reads stdin when omitted")
	return cmd
}

func newNewCmd(root *rootOptions) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := resolveMessage(message, cmd.InOrStdin())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()
			resp, err := root.request(ctx, "POST", "/api/sessions/new", map[string]string{"message": msg})
			if err != nil {
				return err
			}
			return printDispatchResult(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "initial message; reads stdin when omitted")
	return cmd
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream live session events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := root.request(cmd.Context(), "GET", "/api/events", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned %s", resp.Status)
			}
			sc := bufio.NewScanner(resp.Body)
			var kind string
			for sc.Scan() {
				line := sc.Text()
				switch {
				case strings.HasPrefix(line, "event: "):
					kind = strings.TrimPrefix(line, "event: ")
				case strings.HasPrefix(line, "data: "):
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s %s\n",
						time.Now().Format("15:04:05"), kind, strings.TrimPrefix(line, "data: "))
				}
			}
			return sc.Err()
		},
	}
}

func newContainerCmd(root *rootOptions) *cobra.Command {
	containerCmd := &cobra.Command{
		Use:   "container",
		Short: "Sandbox container operations (talks to docker directly)",
	}

	var user string
	ensureCmd := &cobra.Command{
		Use:   "ensure",
		Short: "Bring a user's sandbox container to running",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			be, err := localBackend(root)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()
			if err := be.EnsureContainer(ctx, user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is running\n", isolation.ContainerName(user))
			return nil
		},
	}
	ensureCmd.Flags().StringVar(&user, "user", "", "user whose sandbox to ensure")

	containerCmd.AddCommand(ensureCmd)
	return containerCmd
}

func newAttachCmd(root *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Open an interactive agent shell in a user's sandbox",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("attach requires an interactive terminal")
			}
			be, err := localBackend(root)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := be.EnsureContainer(ctx, user); err != nil {
				return err
			}
			spec, err := be.BuildAttachCommandForUser(user)
			if err != nil {
				return err
			}
			runner := dispatch.NewRunner(nil)
			return runner.Attach(ctx, spec, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user whose sandbox to attach to")
	return cmd
}

// localBackend builds an isolation backend from the config file for
// commands that bypass vibedeckd and drive docker directly.
func localBackend(root *rootOptions) (*backend.Isolation, error) {
	if root.config.Isolation.UsersDir == "" {
		return nil, fmt.Errorf("isolation.usersDir must be set in the config")
	}
	if !isolation.DockerAvailable() {
		return nil, fmt.Errorf("docker binary not found in PATH")
	}
	return backend.NewIsolation(root.config.Isolation, nil, nil)
}

func resolveMessage(flagValue string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return "", fmt.Errorf("message is required (use -m or pipe stdin)")
	}
	return msg, nil
}

func printDispatchResult(out io.Writer, resp *http.Response) error {
	var res struct {
		ExitCode int    `json:"exit_code"`
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
	}
	if err := decodeOrFail(resp, &res); err != nil {
		return err
	}
	if res.Stdout != "" {
		fmt.Fprint(out, res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprint(out, res.Stderr)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("agent exited with code %d", res.ExitCode)
	}
	return nil
}
