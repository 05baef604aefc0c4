package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/engine"
	"fieldline/internal/events"
	"fieldline/internal/migrate"
	"fieldline/internal/server"
	"fieldline/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Fieldline CLI",
	Long: `Fieldline tracks geotagged field-service solicitations through a fixed
review workflow. A submitter photographs a problem and files it, a reviewer
approves or refuses it, and an executor works it to completion. Every status
change lands in an append-only history, so the current status is always the
last history entry.

Statuses: submitted -> (refused | sent_to_executor) -> started <-> on_hold -> finished.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FIELDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("actor-name", "", "actor display name (defaults to actor id)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
}

func registerCommands() {
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(transitionCmd("approve", "Approve a solicitation and send it to the executor", domain.RoleReviewer, domain.StatusSentToExecutor))
	rootCmd.AddCommand(transitionCmd("refuse", "Refuse a solicitation", domain.RoleReviewer, domain.StatusRefused))
	rootCmd.AddCommand(transitionCmd("start", "Start working a solicitation", domain.RoleExecutor, domain.StatusStarted))
	rootCmd.AddCommand(transitionCmd("hold", "Put a solicitation on hold", domain.RoleExecutor, domain.StatusOnHold))
	rootCmd.AddCommand(transitionCmd("finish", "Finish a solicitation", domain.RoleExecutor, domain.StatusFinished))
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorFromFlags(role domain.Role) domain.Actor {
	id := viper.GetString("actor-id")
	name := viper.GetString("actor-name")
	if name == "" {
		name = id
	}
	return domain.Actor{ID: id, DisplayName: name, Role: role}
}

func submitCmd() *cobra.Command {
	var opts engine.CreateOptions
	var lat, lon float64
	var addr domain.Address
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new solicitation",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Actor = actorFromFlags(domain.RoleSubmitter)
			opts.Location = &domain.Location{Latitude: lat, Longitude: lon}
			if addr != (domain.Address{}) {
				opts.Address = &addr
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sol, err := e.CreateSolicitation(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(sol)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "solicitation id (optional, timestamp-derived if omitted)")
	cmd.Flags().StringVar(&opts.PhotoRef, "photo", "", "photo reference")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	cmd.Flags().StringVar(&opts.Note, "note", "", "free-text note")
	cmd.Flags().StringVar(&addr.Road, "road", "", "address road")
	cmd.Flags().StringVar(&addr.Suburb, "suburb", "", "address suburb")
	cmd.Flags().StringVar(&addr.City, "city", "", "address city")
	cmd.Flags().StringVar(&addr.Postcode, "postcode", "", "address postcode")
	cmd.Flags().StringVar(&addr.Country, "country", "", "address country")
	cmd.Flags().StringVar(&addr.DisplayName, "display-name", "", "address display name")
	_ = cmd.MarkFlagRequired("photo")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List solicitations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSolicitations(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderSolicitationTable(items)
				return nil
			})
		},
	}
	return cmd
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a solicitation with its full history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sol, err := e.GetSolicitation(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sol)
				}
				fmt.Printf("Solicitation: %s (%s)\n", sol.ID, sol.CurrentStatus)
				fmt.Printf("Submitted by: %s\n", sol.SubmitterName)
				fmt.Printf("Photo: %s\n", sol.PhotoRef)
				fmt.Printf("Location: %.6f, %.6f\n", sol.Location.Latitude, sol.Location.Longitude)
				if sol.Address != nil && sol.Address.DisplayName != "" {
					fmt.Printf("Address: %s\n", sol.Address.DisplayName)
				}
				if sol.Note != "" {
					fmt.Printf("Note: %s\n", sol.Note)
				}
				fmt.Println("History:")
				for _, h := range sol.History {
					fmt.Printf("  %s  %-17s %s\n", h.Timestamp, h.Status, h.ActorName)
				}
				return nil
			})
		},
	}
	return cmd
}

func transitionCmd(use, short string, role domain.Role, target domain.Status) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			actor := actorFromFlags(role)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sol, err := e.ApplyTransition(ctx, actor, id, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(sol)
			})
		},
	}
	return cmd
}

func queueCmd() *cobra.Command {
	q := &cobra.Command{
		Use:   "queue",
		Short: "Role-specific work queues",
	}
	q.AddCommand(queueReviewerCmd())
	q.AddCommand(queueExecutorCmd())
	return q
}

func queueReviewerCmd() *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "reviewer",
		Short: "Pending solicitations awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var items []domain.Solicitation
				var err error
				if history {
					items, err = e.ReviewerHistory(ctx)
				} else {
					items, err = e.ReviewerQueue(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderSolicitationTable(items)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "show already-processed solicitations instead")
	return cmd
}

func queueExecutorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executor",
		Short: "Approved solicitations, active and finished",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				buckets, err := e.ExecutorQueue(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(buckets)
				}
				fmt.Println("Active:")
				renderExecutorTable(buckets.Active)
				fmt.Println("Finished:")
				renderExecutorTable(buckets.Finished)
				return nil
			})
		},
	}
	return cmd
}

func watchCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a queue and re-render it on an interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != "reviewer" && role != "executor" {
				return fmt.Errorf("--role must be reviewer or executor")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				interval := time.Duration(e.Config.PollInterval()) * time.Second
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					if role == "reviewer" {
						items, err := e.ReviewerQueue(ctx)
						if err != nil {
							return err
						}
						fmt.Printf("-- reviewer queue (%s) --\n", time.Now().Format(time.TimeOnly))
						renderSolicitationTable(items)
					} else {
						buckets, err := e.ExecutorQueue(ctx)
						if err != nil {
							return err
						}
						fmt.Printf("-- executor queue (%s) --\n", time.Now().Format(time.TimeOnly))
						renderExecutorTable(buckets.Active)
					}
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "reviewer", "queue to watch (reviewer or executor)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, solicitationID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, conn *sql.DB) error {
				reader := events.Reader{DB: conn}
				items, err := reader.Latest(ctx, n, evtType, solicitationID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&solicitationID, "solicitation", "", "solicitation id filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	var role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API (dev use)",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("FIELDLINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("FIELDLINE_JWT_SECRET is required")
			}
			r := domain.Role(role)
			if !domain.ValidRole(r) {
				return fmt.Errorf("--role must be submitter, reviewer or executor")
			}
			token, err := server.MintToken(secret, actorFromFlags(r), ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "actor role")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devTokens, ephemeral bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			secret := os.Getenv("FIELDLINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("FIELDLINE_JWT_SECRET is required for bearer auth")
			}
			var eng engine.Engine
			var reader *events.Reader
			if ephemeral {
				eng = engine.New(store.NewMemory(), nil, cfg)
			} else {
				conn, err := db.Open(db.Config{Workspace: workspace})
				if err != nil {
					return err
				}
				defer conn.Close()
				if err := migrate.Migrate(conn); err != nil {
					return err
				}
				eng = engine.New(store.SQL{DB: conn}, events.Writer{DB: conn}, cfg)
				reader = &events.Reader{DB: conn}
			}
			handler, err := server.New(server.Config{
				Engine:   eng,
				Events:   reader,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
					AllowDevTokens:         devTokens,
				},
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(cfg, reader)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Fieldline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devTokens, "dev-tokens", false, "enable the /auth/dev/token endpoint")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "serve from an in-memory store, nothing persisted")
	return cmd
}

// --- helpers ---

func withDB(ctx context.Context, fn func(context.Context, *sql.DB) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, conn)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(store.SQL{DB: conn}, events.Writer{DB: conn}, cfg)
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderSolicitationTable(items []domain.Solicitation) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Status", "Submitter", "Created", "Note"})
	for _, s := range items {
		tw.AppendRow(table.Row{s.ID, s.CurrentStatus, s.SubmitterName, s.CreatedAt, s.Note})
	}
	tw.Render()
}

func renderExecutorTable(items []domain.Solicitation) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Status", "Sent By", "Submitter", "Created"})
	for _, s := range items {
		tw.AppendRow(table.Row{s.ID, s.CurrentStatus, engine.SentBy(s), s.SubmitterName, s.CreatedAt})
	}
	tw.Render()
}
