package cmds

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"firestorm/internal/api"
	"firestorm/internal/backends"
	"firestorm/internal/lifecycle"
	"firestorm/internal/listen"
	"firestorm/internal/ports"
	"firestorm/internal/telemetry"
	"firestorm/internal/types"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	keyLogLevel  = "log_level"
	keyBackend   = "backend"
	keyAdminPort = "admin_port"
)

// runtime holds the collaborators built once per invocation.
type runtime struct {
	store  ports.DocumentStore
	engine *lifecycle.Engine
	mux    *listen.Multiplexer
}

func newRuntime(ctx context.Context) (*runtime, error) {
	store, err := backends.StoreBackend(viper.GetString(keyBackend))
	if err != nil {
		return nil, err
	}
	notifier, err := backends.NotifierFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	engine := lifecycle.NewEngine(store, lifecycle.WithNotifier(notifier))
	return &runtime{
		store:  store,
		engine: engine,
		mux:    listen.NewMultiplexer(store, engine, nil),
	}, nil
}

// NewRootCmd builds the command tree. Flags are bound to viper, so each can also be set
// through its FIRESTORM_ env var.
func NewRootCmd() *cobra.Command {
	v := viper.GetViper()
	v.SetEnvPrefix("firestorm")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(keyBackend, "FIRESTORM_BACKEND", backends.StoreBackendEnvKey)

	root := &cobra.Command{
		Use:           "firestorm",
		Short:         "Read, write and watch documents through the firestorm sync layer",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := log.ParseLevel(v.GetString(keyLogLevel))
			if err != nil {
				return err
			}
			log.SetLevel(lvl)
			return nil
		},
	}
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("backend", "", "document store backend (memory, redis, ddb)")
	_ = v.BindPFlag(keyLogLevel, root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag(keyBackend, root.PersistentFlags().Lookup("backend"))

	root.AddCommand(
		newGetCmd(),
		newQueryCmd(),
		newPutCmd(),
		newDeleteCmd(),
		newWatchCmd(v),
		newSchemaCmd(),
	)
	return root
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Print one document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			return GetDocument(cmd.Context(), cmd.OutOrStdout(), rt.engine, args[0], args[1])
		},
	}
}

// selectionFlags registers the flags that describe a subscription config.
func selectionFlags(cmd *cobra.Command) {
	cmd.Flags().String("id", "", "select one document")
	cmd.Flags().String("ids", "", "select documents by comma separated ids")
	cmd.Flags().StringArray("where", nil, "filter as field,op,value (repeatable)")
	cmd.Flags().String("order", "", "order as field[:asc|desc]")
	cmd.Flags().Int("limit", 0, "page size")
	cmd.Flags().String("after", "", "resume after this document id")
}

func selectionConfig(cmd *cobra.Command, collection string) (types.SubscriptionConfig, error) {
	vals := url.Values{}
	for _, name := range []string{"id", "ids", "order", "after"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			vals.Set(name, f.Value.String())
		}
	}
	if wheres, _ := cmd.Flags().GetStringArray("where"); len(wheres) > 0 {
		vals["where"] = wheres
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
		vals.Set("limit", strconv.Itoa(limit))
	}
	return types.ConfigFromValues(collection, vals)
}

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <collection>",
		Short: "Print the documents of a collection matching the selection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := selectionConfig(cmd, args[0])
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			return Query(cmd.Context(), cmd.OutOrStdout(), rt.store, rt.engine, cfg)
		},
	}
	selectionFlags(cmd)
	return cmd
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <collection> <json>",
		Short: "Create or merge a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaPath, _ := cmd.Flags().GetString("schema")
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			return PutDocument(cmd.Context(), cmd.OutOrStdout(), rt.engine, args[0], args[1], schemaPath)
		},
	}
	cmd.Flags().String("schema", "", "validate against this schema file before saving")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			return DeleteDocument(cmd.Context(), cmd.OutOrStdout(), rt.engine, args[0], args[1])
		},
	}
}

func newWatchCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <collection>",
		Short: "Print snapshots of a subscription as JSON lines until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := selectionConfig(cmd, args[0])
			if err != nil {
				return err
			}
			cfg.Once, _ = cmd.Flags().GetBool("once")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			if port := v.GetInt(keyAdminPort); port > 0 {
				telemetry.Register()
				stopSrv, done := api.RunServerInterruptible(port, api.NewHandler(rt.mux, rt.engine, nil))
				defer func() {
					stopSrv <- struct{}{}
					if err := <-done; err != nil {
						log.WithError(err).Error("Admin server failed")
					}
				}()
			}
			return Watch(ctx, cmd.OutOrStdout(), rt.mux, cfg)
		},
	}
	selectionFlags(cmd)
	cmd.Flags().Bool("once", false, "exit after the first snapshot")
	cmd.Flags().Int("admin-port", 0, "serve /health, /metrics and /subscriptions on this port")
	_ = v.BindPFlag(keyAdminPort, cmd.Flags().Lookup("admin-port"))
	return cmd
}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Schema file tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <schema.yml> <json>",
		Short: "Validate a JSON document against a schema file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ValidateSchema(cmd.OutOrStdout(), args[0], args[1])
		},
	})
	return cmd
}
