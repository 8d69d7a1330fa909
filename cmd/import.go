package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scott/kvdns/seed"
	"github.com/scott/kvdns/storage"
)

var importWatch bool

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Load a YAML record file into the record store",
	Long:  "Replaces every row-set named in FILE. Row-sets FILE does not name are left alone.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		backend, err := openBackend(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer backend.Close()
		codec, err := storage.NewCodec(cfg.Store.Codec)
		if err != nil {
			return err
		}

		path := args[0]
		importer := seed.NewImporter(backend, codec)
		reload := func(ctx context.Context) error {
			f, err := seed.Load(path)
			if err != nil {
				return err
			}
			stats, err := importer.Import(ctx, f)
			if err != nil {
				return err
			}
			log.Infof("imported %d rows in %d row-sets from %s", stats.Rows, stats.RowSets, path)
			return nil
		}
		if err := reload(ctx); err != nil {
			return err
		}
		if !importWatch {
			return nil
		}
		return seed.Watch(ctx, path, seed.DefaultSettle, reload)
	},
}

func init() {
	importCmd.Flags().BoolVar(&importWatch, "watch", false, "keep running and re-import FILE when it changes")
}
