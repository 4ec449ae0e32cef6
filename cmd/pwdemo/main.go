package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pwdemo/internal/app"
	"pwdemo/internal/config"
	"pwdemo/internal/db"
	"pwdemo/internal/server"
	pwdemosdk "pwdemo/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "pwdemo",
	Short: "Protocol webhook demo",
	Long: `pwdemo serves inspection protocols assigned to users and notifies a webhook
when a protocol is completed.

- serve starts the HTTP API (in-memory, SQLite or PostgreSQL storage).
- Every other command talks to a running server (see --server).
- The webhook URL comes from config.json, WEBHOOK_URL (or LOCAL_WEBHOOK_URL) or
  'pwdemo webhook set' at runtime, highest last.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("config", "", "config file (default ./config.json if present)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "http://localhost:3099", "API server base URL")
	_ = viper.BindPFlag("cli.config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("cli.json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("cli.server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindEnv("cli.server", config.EnvPrefix+"_SERVER")
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(usersCmd())
	rootCmd.AddCommand(protocolsCmd())
	rootCmd.AddCommand(webhookCmd())
	rootCmd.AddCommand(resetCmd())
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetViper(), viper.GetString("cli.config"))
			if err != nil {
				return err
			}
			logger := cfg.Log.NewLogger(os.Stderr)
			a, err := app.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{
				Engine:     a.Engine,
				Dispatcher: a.Dispatcher,
				Metrics:    a.Metrics,
				Logger:     logger.With("component", "http"),
			})
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", cfg.Addr())
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
			}
			srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil {
					logger.Warn("shutdown", "error", err)
				}
			}()
			printBanner(cfg, a.Dispatcher.EffectiveURL())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().Int("port", 3099, "listen port")
	cmd.Flags().String("db-driver", "", "storage driver: memory, sqlite or postgres")
	cmd.Flags().String("db-path", "data/protocols.db", "SQLite file path")
	cmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().String("log-format", "text", "log format: text or json")
	_ = viper.BindPFlag("port", cmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("database.driver", cmd.Flags().Lookup("db-driver"))
	_ = viper.BindPFlag("database.path", cmd.Flags().Lookup("db-path"))
	_ = viper.BindPFlag("log.level", cmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", cmd.Flags().Lookup("log-format"))
	return cmd
}

func printBanner(cfg *config.Config, webhookURL string) {
	storage := map[string]string{
		db.DriverMemory:   "in-memory",
		db.DriverSQLite:   "SQLite (" + cfg.Database.Path + ")",
		db.DriverPostgres: "PostgreSQL",
	}[cfg.Database.Driver]
	fmt.Printf("Protocol Webhook Demo running at http://localhost:%d\n", cfg.Port)
	fmt.Println("  Database:", storage)
	fmt.Println("  GET  /api/health")
	fmt.Println("  GET  /api/users")
	fmt.Println("  GET  /api/protocols")
	fmt.Println("  GET  /api/protocols/{id}")
	fmt.Println("  POST /api/protocols/{id}/complete  -> triggers webhook")
	fmt.Println("  GET  /api/webhook-config")
	fmt.Println("  POST /api/webhook-config  body: { url, enabled }")
	fmt.Println("  POST /api/reset  -> reset mock data")
	fmt.Println("  GET  /metrics, /openapi.json, /docs")
	if webhookURL == "" {
		fmt.Println("  Set webhook URL via POST /api/webhook-config, config.json, or WEBHOOK_URL env.")
	} else {
		fmt.Println("  Webhook:", webhookURL)
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe /api/health; exits non-zero when the server is not healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			h, err := client().Health(ctx)
			if err != nil {
				return err
			}
			if !h.OK {
				return fmt.Errorf("%s reports not ok", h.Service)
			}
			if viper.GetBool("cli.json") {
				return printJSON(h)
			}
			fmt.Printf("ok: %s (database %s)\n", h.Service, h.Database)
			return nil
		},
	}
}

func usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := client().Users(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("cli.json") {
				return printJSON(users)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "Name"})
			for _, u := range users {
				tw.AppendRow(table.Row{u.ID, u.Name})
			}
			tw.Render()
			return nil
		},
	}
}

func protocolsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "protocols", Short: "Inspect and complete protocols"}
	cmd.AddCommand(protocolsListCmd())
	cmd.AddCommand(protocolsShowCmd())
	cmd.AddCommand(protocolsCompleteCmd())
	return cmd
}

func protocolsListCmd() *cobra.Command {
	var userID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List protocols",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := client().Protocols(cmd.Context(), userID, status)
			if err != nil {
				return err
			}
			if viper.GetBool("cli.json") {
				return printJSON(list)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Site", "Completed At"})
			for _, p := range list {
				completedAt := ""
				if p.CompletedAt != nil {
					completedAt = *p.CompletedAt
				}
				tw.AppendRow(table.Row{p.ID, p.Title, p.Status, p.AssigneeID, p.SiteName, completedAt})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "assignee filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func protocolsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a protocol with its sections and items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := client().Protocol(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("cli.json") {
				return printJSON(p)
			}
			assignee := p.AssigneeID
			if p.Assignee != nil {
				assignee = fmt.Sprintf("%s (%s)", p.Assignee.Name, p.Assignee.ID)
			}
			fmt.Printf("%s  %s  [%s]\n", p.ID, p.Title, p.Status)
			fmt.Printf("Assignee: %s, open protocols remaining: %d\n", assignee, p.OpenProtocolsRemaining)
			if p.SiteName != "" || p.TurbineID != "" {
				fmt.Printf("Site: %s  Turbine: %s  Date: %s\n", p.SiteName, p.TurbineID, p.Date)
			}
			sections := newTable()
			sections.AppendHeader(table.Row{"Section", "Progress"})
			for _, s := range p.Sections {
				sections.AppendRow(table.Row{s.Title, fmt.Sprintf("%d / %d", s.Completed, s.Total)})
			}
			sections.Render()
			if len(p.Items) > 0 {
				items := newTable()
				items.AppendHeader(table.Row{"Section", "Item", "Status", "Remark", "Comment"})
				for _, it := range p.Items {
					items.AppendRow(table.Row{it.SectionPath, it.Name, it.Status, it.Remark, it.Comment})
				}
				items.Render()
			}
			return nil
		},
	}
}

func protocolsCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a protocol and trigger the webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().Complete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("cli.json") {
				return printJSON(res)
			}
			fmt.Printf("Completed %s at %s\n", res.Protocol.ID, res.Webhook.CompletedAt)
			fmt.Printf("%s has %d open protocol(s) left", res.Webhook.UserName, res.Webhook.RemainingCount)
			if res.Webhook.AllDone {
				fmt.Print(" (all done)")
			}
			fmt.Println()
			fmt.Println("Webhook:", describeDelivery(res.WebhookDetail))
			return nil
		},
	}
}

func describeDelivery(r pwdemosdk.WebhookResult) string {
	switch {
	case r.Sent:
		return fmt.Sprintf("sent (HTTP %d)", r.Status)
	case r.Error != "":
		return "failed: " + r.Error
	default:
		return "not sent: " + r.Reason
	}
}

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "webhook", Short: "Show or change the webhook configuration"}
	cmd.AddCommand(webhookGetCmd())
	cmd.AddCommand(webhookSetCmd())
	return cmd
}

func webhookGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the effective webhook configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := client().WebhookConfig(cmd.Context())
			if err != nil {
				return err
			}
			return printWebhookConfig(cfg)
		},
	}
}

func webhookSetCmd() *cobra.Command {
	var url string
	var enabled bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Override the webhook URL or toggle delivery at runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			var urlArg *string
			var enabledArg *bool
			if cmd.Flags().Changed("url") {
				urlArg = &url
			}
			if cmd.Flags().Changed("enabled") {
				enabledArg = &enabled
			}
			if urlArg == nil && enabledArg == nil {
				return fmt.Errorf("--url or --enabled required")
			}
			cfg, err := client().SetWebhookConfig(cmd.Context(), urlArg, enabledArg)
			if err != nil {
				return err
			}
			return printWebhookConfig(cfg)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "webhook URL (empty clears the runtime override)")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "enable or disable delivery")
	return cmd
}

func printWebhookConfig(cfg pwdemosdk.WebhookConfig) error {
	if viper.GetBool("cli.json") {
		return printJSON(cfg)
	}
	url := "(none)"
	if cfg.URL != nil {
		url = *cfg.URL
	}
	tw := newTable()
	tw.AppendRow(table.Row{"URL", url})
	tw.AppendRow(table.Row{"Enabled", cfg.Enabled})
	if cfg.Source != "" {
		tw.AppendRow(table.Row{"Source", cfg.Source})
	}
	tw.Render()
	return nil
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore the seed data",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().Reset(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("cli.json") {
				return printJSON(res)
			}
			fmt.Printf("%s (%d protocols)\n", res.Message, res.ProtocolCount)
			return nil
		},
	}
}

func client() *pwdemosdk.Client {
	return pwdemosdk.New(strings.TrimRight(viper.GetString("cli.server"), "/"))
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
