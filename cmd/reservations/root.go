package main

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Rosvend/university-reservations/internal/catalog"
	"github.com/Rosvend/university-reservations/internal/common/config"
	"github.com/Rosvend/university-reservations/internal/queue"
	"github.com/Rosvend/university-reservations/internal/service/reservation"
)

// app はコマンド間で共有する設定とファイルシステムです
type app struct {
	v       *viper.Viper
	fsys    afero.Fs
	envFile string
	cfg     *config.Config
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "reservations",
		Short:         "Book university spaces without double booking",
		Long:          "reservations manages study room, lab and meeting room bookings.\nA space can be booked only once per date and time.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.envFile != "" {
				config.LoadDotEnv(a.envFile)
			}
			cfg, err := config.Load(a.v, "")
			if err != nil {
				return err
			}
			if err := config.SetupLogging(cfg.LogLevel); err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	f := rootCmd.PersistentFlags()
	f.StringVar(&a.envFile, "env-file", "", "Load environment variables from this file")
	f.String("backend", config.BackendFile, "Storage backend (memory, file, sql, redis)")
	cobra.CheckErr(a.v.BindPFlag(config.KeyBackend, f.Lookup("backend")))
	f.String("data-dir", "./data", "Directory for the file backend")
	cobra.CheckErr(a.v.BindPFlag(config.KeyDataDir, f.Lookup("data-dir")))
	f.String("store-key", reservation.DefaultKey, "Key under which reservations are stored")
	cobra.CheckErr(a.v.BindPFlag(config.KeyStoreKey, f.Lookup("store-key")))
	f.String("catalog", "", "Space catalog file (JSON or YAML); built-in catalog when empty")
	cobra.CheckErr(a.v.BindPFlag(config.KeyCatalog, f.Lookup("catalog")))
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	cobra.CheckErr(a.v.BindPFlag(config.KeyLogLevel, f.Lookup("log-level")))

	rootCmd.AddCommand(newSpacesCmd(a))
	rootCmd.AddCommand(newCreateCmd(a))
	rootCmd.AddCommand(newListCmd(a))
	rootCmd.AddCommand(newCancelCmd(a))
	rootCmd.AddCommand(newClearCmd(a))
	return rootCmd
}

// openStore は設定に従って予約ストアを開きます
// RabbitMQ が設定されている場合は予約の作成・キャンセルを通知します
func (a *app) openStore(ctx context.Context) (*reservation.Store, func() error, error) {
	var opts []reservation.Option
	var publisher queue.Publisher
	if a.cfg.AMQP.URL != "" {
		p, err := queue.NewAMQPPublisher(a.cfg.AMQP.URL, a.cfg.AMQP.Queue)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect notification queue: %w", err)
		}
		publisher = p
		opts = append(opts, reservation.WithNotifier(queue.NewEventNotifier(p)))
	}

	store, closeStore, err := reservation.Open(ctx, a.cfg, a.fsys, opts...)
	if err != nil {
		if publisher != nil {
			publisher.Close()
		}
		return nil, nil, err
	}
	return store, func() error {
		if publisher != nil {
			publisher.Close()
		}
		return closeStore()
	}, nil
}

func (a *app) loadCatalog() (*catalog.Catalog, error) {
	return catalog.Load(a.fsys, a.cfg.Store.CatalogPath)
}
