package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jrhy/ydoc"
)

var watchCmd = &cobra.Command{
	Use:   "watch DIR",
	Short: "Archive update files as they appear in DIR",
	Long: `Apply the update files already in DIR, then every file created or
written there, saving a new checkpoint after each. Checkpoint links are
printed one per line. Files starting with "." are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(cmd, func(ctx context.Context, a *ydoc.Archive) error {
			doc, prev, err := restore(ctx, a, checkpointLink)
			if err != nil {
				return err
			}
			w := &watcher{
				dir:     args[0],
				archive: a,
				doc:     doc,
				prev:    prev,
				logger:  slog.Default(),
				onCheckpoint: func(link string) {
					fmt.Fprintln(cmd.OutOrStdout(), link)
				},
			}
			return w.run(ctx)
		})
	},
}

// watcher feeds update files from a directory into a document and
// checkpoints it after each one.
type watcher struct {
	dir          string
	archive      *ydoc.Archive
	doc          *ydoc.Document
	prev         *ydoc.Checkpoint
	logger       *slog.Logger
	onCheckpoint func(link string)
}

func (w *watcher) run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.Type().IsRegular() {
			w.ingest(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			w.logger.Debug("event received", "name", event.Name, "op", event.Op.String())
			w.ingest(ctx, event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// ingest applies one file. Files that are not (yet) complete updates are
// logged and skipped; a later write event retries them.
func (w *watcher) ingest(ctx context.Context, path string) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	b, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("cannot read update", "path", path, "error", err)
		return
	}
	changed := false
	sub := w.doc.Observe(func(*ydoc.TransactionEvent) { changed = true })
	err = w.doc.Transact(func(txn *ydoc.Transaction) error {
		return w.doc.ApplyUpdate(txn, b)
	})
	sub.Close()
	if err != nil {
		w.logger.Warn("skipping update", "path", path, "error", err)
		return
	}
	if !changed {
		w.logger.Debug("update already archived", "path", path)
		return
	}
	cp, err := w.archive.Save(ctx, w.doc, w.prev)
	if err != nil {
		w.logger.Error("save failed", "path", path, "error", err)
		return
	}
	link, err := w.archive.PutCheckpoint(ctx, cp)
	if err != nil {
		w.logger.Error("checkpoint failed", "path", path, "error", err)
		return
	}
	w.prev = cp
	w.logger.Info("checkpoint", "path", path, "link", link)
	w.onCheckpoint(link)
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&checkpointLink, "checkpoint", "", "Checkpoint to extend")
}
