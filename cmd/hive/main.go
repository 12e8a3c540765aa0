package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hive/internal/app"
	"hive/internal/config"
	"hive/internal/coordinator"
	"hive/internal/db"
	"hive/internal/domain"
	"hive/internal/engine"
	"hive/internal/repo"
	"hive/internal/server"
	"hive/internal/store"
	hivesdk "hive/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Hive coordinates dependency-aware work across agents",
	Long: `Hive tracks units of work (records), their dependency graph, and who is
working on what. Records block each other with blocked_by/blocks edges; the
ready list surfaces what can be picked up right now, in priority order.
Claims come in two flavors: coordinator leases (in-memory, TTL-bounded,
served over HTTP) and durable owners written to the workspace database.`,
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
	viper.SetEnvPrefix("HIVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("agent", "local-user", "agent name")
	rootCmd.PersistentFlags().String("server", "", "hive server URL; most claim commands fall back to the local workspace when unset")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("agent", rootCmd.PersistentFlags().Lookup("agent"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(readyCmd())
	rootCmd.AddCommand(depsCmd())
	rootCmd.AddCommand(claimCmd())
	rootCmd.AddCommand(releaseCmd())
	rootCmd.AddCommand(extendCmd())
	rootCmd.AddCommand(reservationsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func recordCmd() *cobra.Command {
	rec := &cobra.Command{Use: "record", Short: "Manage records"}
	rec.AddCommand(recordCreateCmd())
	rec.AddCommand(recordListCmd())
	rec.AddCommand(recordShowCmd())
	rec.AddCommand(recordUpdateCmd())
	rec.AddCommand(recordBlockCmd())
	rec.AddCommand(recordCompleteCmd())
	rec.AddCommand(recordDeleteCmd())
	return rec
}

func recordCreateCmd() *cobra.Command {
	var status, priority, parent, reason string
	var tags, blockedBy, blocks, related []string
	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.CreateRecord(ctx, engine.RecordCreateOptions{
					ID:             args[0],
					Status:         domain.Status(status),
					Priority:       domain.Priority(priority),
					Tags:           tags,
					BlockedBy:      blockedBy,
					Blocks:         blocks,
					Related:        related,
					Parent:         parent,
					BlockingReason: reason,
					ActorID:        viper.GetString("agent"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "initial status (default pending)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (default medium)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags")
	cmd.Flags().StringSliceVar(&blockedBy, "blocked-by", nil, "record ids this record waits on")
	cmd.Flags().StringSliceVar(&blocks, "blocks", nil, "record ids this record holds up")
	cmd.Flags().StringSliceVar(&related, "related", nil, "related record ids")
	cmd.Flags().StringVar(&parent, "parent", "", "parent record id")
	cmd.Flags().StringVar(&reason, "blocking-reason", "", "mark blocked with this reason")
	return cmd
}

func recordListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				records, err := e.Repo.ListRecords(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Priority", "Owner", "Blocked", "Blocked By"})
				for _, r := range records {
					owner := ""
					if r.Owner != nil {
						owner = *r.Owner
					}
					tw.AppendRow(table.Row{r.ID, r.Status, r.Priority, owner, r.Blocked, strings.Join(r.Dependencies.BlockedBy, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func recordShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a record with its blocking reasons",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Repo.GetRecord(ctx, args[0])
				if err != nil {
					return err
				}
				reasons, err := e.BlockingReasonsFor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"record": rec, "reasons": reasons})
			})
		},
	}
	return cmd
}

func recordUpdateCmd() *cobra.Command {
	var status, priority, parent string
	var clearParent bool
	var tags, addBlockedBy, dropBlockedBy, addBlocks, dropBlocks, addRelated, dropRelated []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.RecordUpdateOptions{
					ID:            args[0],
					AddBlockedBy:  addBlockedBy,
					DropBlockedBy: dropBlockedBy,
					AddBlocks:     addBlocks,
					DropBlocks:    dropBlocks,
					AddRelated:    addRelated,
					DropRelated:   dropRelated,
					ClearParent:   clearParent,
					ActorID:       viper.GetString("agent"),
					Force:         viper.GetBool("force"),
				}
				if status != "" {
					s := domain.Status(status)
					opts.Status = &s
				}
				if priority != "" {
					p := domain.Priority(priority)
					opts.Priority = &p
				}
				if cmd.Flags().Changed("tag") {
					opts.Tags = tags
				}
				if parent != "" {
					opts.SetParent = &parent
				}
				rec, err := e.UpdateRecord(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags")
	cmd.Flags().StringSliceVar(&addBlockedBy, "add-blocked-by", nil, "add blockers")
	cmd.Flags().StringSliceVar(&dropBlockedBy, "drop-blocked-by", nil, "drop blockers")
	cmd.Flags().StringSliceVar(&addBlocks, "add-blocks", nil, "add dependents")
	cmd.Flags().StringSliceVar(&dropBlocks, "drop-blocks", nil, "drop dependents")
	cmd.Flags().StringSliceVar(&addRelated, "add-related", nil, "add related records")
	cmd.Flags().StringSliceVar(&dropRelated, "drop-related", nil, "drop related records")
	cmd.Flags().StringVar(&parent, "parent", "", "set parent record")
	cmd.Flags().BoolVar(&clearParent, "clear-parent", false, "remove the parent link")
	return cmd
}

func recordBlockCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "block <id>",
		Short: "Flag a record as blocked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Block(ctx, args[0], reason, viper.GetString("agent"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the record is blocked")
	return cmd
}

func recordCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a record completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Complete(ctx, args[0], viper.GetString("agent"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func recordDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteRecord(ctx, args[0], viper.GetString("agent"))
			})
		},
	}
	return cmd
}

func readyCmd() *cobra.Command {
	var projectsDir string
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "Ordered list of claimable records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL := viper.GetString("server"); serverURL != "" {
				items, err := newSDKClient(serverURL).Ready(cmd.Context())
				if err != nil {
					return err
				}
				return printReady(itemsFromSDK(items))
			}
			if projectsDir != "" {
				snap, cfg, err := dirSnapshot(cmd.Context(), projectsDir)
				if err != nil {
					return err
				}
				items, err := engine.ReadyWork(snap, cfg.Graph.MaxDepth)
				if err != nil {
					return err
				}
				return printReady(items)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ReadyWorkFromStore(ctx)
				if err != nil {
					return err
				}
				return printReady(items)
			})
		},
	}
	cmd.Flags().StringVar(&projectsDir, "projects-dir", "", "read records from <dir>/projects/*/AGENCY.md instead of the workspace database")
	return cmd
}

// dirSnapshot reads the record tree under root instead of the workspace
// database. The workspace config still supplies the graph limits.
func dirSnapshot(ctx context.Context, root string) (store.Snapshot, *config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return store.Snapshot{}, nil, err
	}
	snap, err := store.Dir{Root: root}.Snapshot(ctx)
	if err != nil {
		return store.Snapshot{}, nil, err
	}
	return snap, cfg, nil
}

func printReady(items []engine.ReadyItem) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "ID", "Priority", "Tags", "Last Modified"})
	for i, item := range items {
		tw.AppendRow(table.Row{i + 1, item.ID, item.Priority, strings.Join(item.Tags, ","), item.LastModified})
	}
	tw.Render()
	return nil
}

func itemsFromSDK(in []hivesdk.ReadyItem) []engine.ReadyItem {
	out := make([]engine.ReadyItem, 0, len(in))
	for _, item := range in {
		out = append(out, engine.ReadyItem{
			ID:           item.ID,
			Priority:     domain.Priority(item.Priority),
			Tags:         item.Tags,
			LastModified: item.LastModified,
		})
	}
	return out
}

func depsCmd() *cobra.Command {
	var projectsDir string
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Dependency graph with cycles and warnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectsDir != "" {
				snap, cfg, err := dirSnapshot(cmd.Context(), projectsDir)
				if err != nil {
					return err
				}
				summary, err := engine.Summarize(snap, cfg.Graph.MaxDepth)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(summary)
				}
				fmt.Print(engine.RenderSummary(summary))
				return nil
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				summary, err := e.GraphSummaryFromStore(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(summary)
				}
				fmt.Print(engine.RenderSummary(summary))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectsDir, "projects-dir", "", "read records from <dir>/projects/*/AGENCY.md instead of the workspace database")
	return cmd
}

func claimCmd() *cobra.Command {
	var ttlSeconds int
	cmd := &cobra.Command{
		Use:   "claim <project-id>",
		Short: "Claim a project",
		Long: `With --server, takes a TTL-bounded coordinator lease and prints the
claim token. Without it, writes this agent as the durable owner of the record
in the local workspace.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL := viper.GetString("server"); serverURL != "" {
				claim, err := newSDKClient(serverURL).Acquire(cmd.Context(), args[0], ttlSeconds)
				if err != nil {
					var apiErr *hivesdk.APIError
					if errors.As(err, &apiErr) && apiErr.Code == "already_claimed" {
						return fmt.Errorf("already claimed by %v until %v", apiErr.Details["current_owner"], apiErr.Details["expires_at"])
					}
					return err
				}
				return printJSONOrTable(claim)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.ClaimOwner(ctx, args[0], viper.GetString("agent"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().IntVar(&ttlSeconds, "ttl-seconds", 0, "lease duration (0 = server default)")
	return cmd
}

func releaseCmd() *cobra.Command {
	var claimID string
	cmd := &cobra.Command{
		Use:   "release <project-id>",
		Short: "Release a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL := viper.GetString("server"); serverURL != "" {
				if claimID == "" {
					return fmt.Errorf("--claim-id required with --server")
				}
				if err := newSDKClient(serverURL).Release(cmd.Context(), args[0], claimID); err != nil {
					return err
				}
				fmt.Println("released", args[0])
				return nil
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.ReleaseOwner(ctx, args[0], viper.GetString("agent"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&claimID, "claim-id", "", "claim token from hive claim")
	return cmd
}

func extendCmd() *cobra.Command {
	var claimID string
	var ttlSeconds int
	cmd := &cobra.Command{
		Use:   "extend <project-id>",
		Short: "Extend a coordinator lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL := viper.GetString("server")
			if serverURL == "" {
				return fmt.Errorf("extend needs --server; durable owners do not expire")
			}
			if claimID == "" {
				return fmt.Errorf("--claim-id required")
			}
			claim, err := newSDKClient(serverURL).Extend(cmd.Context(), args[0], claimID, ttlSeconds)
			if err != nil {
				return err
			}
			return printJSONOrTable(claim)
		},
	}
	cmd.Flags().StringVar(&claimID, "claim-id", "", "claim token from hive claim")
	cmd.Flags().IntVar(&ttlSeconds, "ttl-seconds", 0, "new lease duration (0 = server default)")
	return cmd
}

func reservationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reservations",
		Short: "List live claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL := viper.GetString("server"); serverURL != "" {
				claims, err := newSDKClient(serverURL).Reservations(cmd.Context())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(claims)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Project", "Agent", "Claimed At", "Expires At"})
				for _, c := range claims {
					tw.AppendRow(table.Row{c.ProjectID, c.AgentName, c.CreatedAt, c.ExpiresAt})
				}
				tw.Render()
				return nil
			}
			// no server: durable owners are the reservations
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				records, err := e.Repo.ListRecords(ctx)
				if err != nil {
					return err
				}
				var owned []domain.Record
				for _, r := range records {
					if r.Claimed() {
						owned = append(owned, r)
					}
				}
				if viper.GetBool("json") {
					return printJSON(owned)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Record", "Owner", "Status", "Last Modified"})
				for _, r := range owned {
					tw.AppendRow(table.Row{r.ID, *r.Owner, r.Status, r.LastModified})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Record", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.TS, evt.Type, evt.RecordID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			ws, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer ws.Close()

			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			if addr == "" {
				addr = ws.Config.Server.Bind
			}
			if basePath == "" {
				basePath = ws.Config.Server.BasePath
			}
			jwtSecret := os.Getenv("HIVE_JWT_SECRET")
			if jwtSecret == "" {
				jwtSecret = ws.Config.Server.JWTSecret
			}
			coord := coordinator.New(ws.Config.Coordinator)
			handler, err := server.New(server.Config{
				Engine:      ws.Engine,
				Coordinator: coord,
				BasePath:    basePath,
				Auth: server.AuthConfig{
					JWTSecret:        jwtSecret,
					AllowAgentHeader: ws.Config.Server.AllowAgentHeader,
					Logger:           logger,
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			stop := make(chan struct{})
			go coord.Sweep(stop)
			defer close(stop)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving hive api", "addr", addr, "base_path", basePath, "docs", "/docs")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from hive.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from hive.yml)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default hive.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}

	var agentName, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentName == "" {
				agentName = viper.GetString("agent")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key := uuid.NewString()
				apiKey := domain.APIKey{
					ID:        uuid.NewString(),
					AgentName: agentName,
					Name:      name,
					KeyHash:   repo.HashAPIKey(key),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertAPIKey(ctx, apiKey); err != nil {
					return err
				}
				fmt.Println(key)
				return nil
			})
		},
	}
	create.Flags().StringVar(&agentName, "agent-name", "", "agent the key authenticates (default --agent)")
	create.Flags().StringVar(&name, "name", "", "human label for the key")
	keys.AddCommand(create)

	keys.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})

	keys.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return keys
}

func newSDKClient(serverURL string) *hivesdk.Client {
	client := hivesdk.New(serverURL, viper.GetString("agent"))
	client.BearerToken = os.Getenv("HIVE_TOKEN")
	client.APIKey = os.Getenv("HIVE_API_KEY")
	return client
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	ws, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws.Engine)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}
