package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/tether/internal/cmdpolicy"
	"github.com/haasonsaas/tether/internal/config"
	"github.com/haasonsaas/tether/internal/engine"
	"github.com/haasonsaas/tether/internal/events"
	"github.com/haasonsaas/tether/internal/observability"
	"github.com/haasonsaas/tether/internal/sessions"
	"github.com/haasonsaas/tether/internal/skills"
	"github.com/haasonsaas/tether/internal/terminal"
	"github.com/haasonsaas/tether/pkg/models"
)

// buildRunCmd creates the "run" command: one engine turn against the
// local terminal, streaming output as it arrives.
func buildRunCmd() *cobra.Command {
	var (
		configPath  string
		sessionID   string
		terminalDir string
		model       string
		watchAddr   string
	)
	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run one assistant turn against the local terminal",
		Long: `Dispatches one turn: the message plus terminal state go to the model,
tool calls execute locally, and the reply streams to stdout. With no
message argument the message is read from stdin.

Interrupting with Ctrl-C cancels the run; partial output is preserved in
the session transcript.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.TrimSpace(strings.Join(args, " "))
			if message == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read message from stdin: %w", err)
				}
				message = strings.TrimSpace(string(data))
			}
			if message == "" {
				return fmt.Errorf("no message given")
			}

			cfg, err := loadConfig(resolveConfigPath(configPath), configPath != "")
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := rt.buildModelStack(ctx); err != nil {
				return err
			}

			var sink events.Sink = consoleSink(cmd.OutOrStdout())
			if watchAddr != "" {
				fanout := events.NewFanout()
				sink = events.NewMultiSink(sink, fanout)
				watchSrv := watchServer(watchAddr, fanout, rt.logger)
				defer watchSrv.Close()
			}

			term := terminal.NewLocal(terminalDir)
			eng, err := engine.New(engine.Options{
				Config:    cfg,
				Store:     rt.store,
				Providers: rt.registry,
				Terminals: terminal.ResolverFunc(func(string) (terminal.Terminal, error) {
					return term, nil
				}),
				Model:    model,
				Decider:  rt.decider,
				Skills:   rt.skills,
				External: rt.external,
				Approver: consoleApprover(cmd.OutOrStdout(), cmd.InOrStdin()),
				Sink:     sink,
				Logger:   rt.logger,
				Metrics:  rt.metrics,
				Tracer:   rt.tracer,
			})
			if err != nil {
				return err
			}

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			if err := eng.Dispatch(ctx, sessionID, term.ID(), message); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nsession: %s\n", sessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default: tether.yaml or TETHER_CONFIG)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session to continue (default: new session)")
	cmd.Flags().StringVar(&terminalDir, "dir", "", "Working directory for the terminal (default: current)")
	cmd.Flags().StringVar(&model, "model", "", "Model override for this run")
	cmd.Flags().StringVar(&watchAddr, "watch-addr", "", "Serve run events to WebSocket watchers at this address (e.g. 127.0.0.1:7455)")
	return cmd
}

// watchServer exposes the run's event stream at /events. Each WebSocket
// connection joins the fanout until it drops; watchers only read.
func watchServer(addr string, fanout *events.Fanout, logger *observability.Logger) *http.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sink := events.NewWebSocketSink(conn)
		fanout.Add(sink)
		go func() {
			defer func() {
				fanout.Remove(sink)
				sink.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "watch listener failed", "error", err)
		}
	}()
	return srv
}

// consoleSink renders engine events for an interactive terminal: content
// streams straight through, reasoning is fenced with markers, tool
// activity gets one-line notices.
func consoleSink(out io.Writer) events.Sink {
	inReasoning := false
	return events.NewCallbackSink(func(ctx context.Context, sessionID string, e models.EngineEvent) {
		switch e.Type {
		case models.EventReasoningStarted:
			fmt.Fprint(out, "[thinking] ")
			inReasoning = true
		case models.EventReasoningFinished:
			if inReasoning {
				fmt.Fprintln(out)
				inReasoning = false
			}
		case models.EventContentDelta:
			if e.Stream != nil {
				fmt.Fprint(out, e.Stream.Delta)
			}
		case models.EventToolStarted:
			if e.Tool != nil {
				fmt.Fprintf(out, "\n[%s] ", e.Tool.Name)
			}
		case models.EventToolFinished:
			if e.Tool != nil {
				fmt.Fprintf(out, "%s (%s)\n", e.Tool.Code, e.Tool.Elapsed.Round(time.Millisecond))
			}
		case models.EventRunCancelled:
			fmt.Fprintln(out, "\n[cancelled]")
		case models.EventRunError:
			if e.Error != nil {
				fmt.Fprintf(out, "\n[error] %s\n", e.Error.Message)
			}
		case models.EventRunFinished:
			fmt.Fprintln(out)
		}
	})
}

// consoleApprover asks the user about escalated commands on the terminal.
func consoleApprover(out io.Writer, in io.Reader) cmdpolicy.Approver {
	reader := bufio.NewReader(in)
	return cmdpolicy.ApproverFunc(func(ctx context.Context, command string) (bool, error) {
		fmt.Fprintf(out, "\nRun this command? [y/N]\n  %s\n> ", command)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	})
}

// buildSessionsCmd creates the "sessions" command group.
func buildSessionsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	withStore := func(fn func(cmd *cobra.Command, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(resolveConfigPath(configPath), configPath != "")
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()
			return fn(cmd, rt, args)
		}
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		RunE: withStore(func(cmd *cobra.Command, rt *runtime, args []string) error {
			list, err := rt.store.List(cmd.Context(), sessions.ListOptions{Limit: 50})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTERMINAL\tUPDATED\tTITLE")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					s.ID, s.BoundTerminalID, s.UpdatedAt.Format("2006-01-02 15:04:05"), s.Title)
			}
			return w.Flush()
		}),
	}

	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's transcript",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, rt *runtime, args []string) error {
			_, log, err := rt.store.LoadSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, msg := range log {
				printMessage(out, msg)
			}
			return nil
		}),
	}

	rollbackCmd := &cobra.Command{
		Use:   "rollback <session-id> <message-id>",
		Short: "Remove a message and everything after it",
		Args:  cobra.ExactArgs(2),
		RunE: withStore(func(cmd *cobra.Command, rt *runtime, args []string) error {
			removed, err := rt.store.RollbackToMessage(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d messages.\n", removed)
			return nil
		}),
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, rt *runtime, args []string) error {
			if err := rt.store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted.")
			return nil
		}),
	}

	cmd.AddCommand(listCmd, showCmd, rollbackCmd, deleteCmd)
	return cmd
}

func printMessage(out io.Writer, msg *models.Message) {
	header := fmt.Sprintf("--- %s  %s  %s", msg.Role, msg.ID, msg.CreatedAt.Format("15:04:05"))
	if msg.Aborted {
		header += "  (aborted)"
	}
	fmt.Fprintln(out, header)
	if msg.Content != "" {
		fmt.Fprintln(out, msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		fmt.Fprintf(out, "  -> %s %s\n", tc.Name, string(tc.Input))
	}
	for _, tr := range msg.ToolResults {
		content := tr.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		fmt.Fprintf(out, "  <- [%s] %s\n", tr.Code, content)
	}
	fmt.Fprintln(out)
}

// buildSkillsCmd creates the "skills" command group.
func buildSkillsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect the skill library",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(resolveConfigPath(configPath), configPath != "")
			if err != nil {
				return err
			}
			if len(cfg.Skills.Dirs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No skill directories configured.")
				return nil
			}
			lib, err := skills.NewLibrary(cfg.Skills.Dirs, nil)
			if err != nil {
				return err
			}
			defer lib.Close()
			list := lib.List()
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No skills found.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION\tPATH")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Description, s.Path)
			}
			return w.Flush()
		},
	}
	cmd.AddCommand(listCmd)
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with configuration files",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(configPath)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: OK\n", path)
			fmt.Fprintf(out, "  store: %s (%s)\n", cfg.Store.Driver, cfg.Store.Path)
			fmt.Fprintf(out, "  default provider: %s\n", cfg.Providers.Default)
			fmt.Fprintf(out, "  recursion limit: %d\n", cfg.Engine.RecursionLimit)
			fmt.Fprintf(out, "  approval mode: %s\n", cfg.Engine.ApprovalMode)
			if len(cfg.Skills.Dirs) > 0 {
				fmt.Fprintf(out, "  skill dirs: %s\n", strings.Join(cfg.Skills.Dirs, ", "))
			}
			if len(cfg.MCP.Servers) > 0 {
				fmt.Fprintf(out, "  mcp servers: %d\n", len(cfg.MCP.Servers))
			}
			return nil
		},
	}
	cmd.AddCommand(checkCmd)
	return cmd
}
