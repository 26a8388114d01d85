package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jrhy/ydoc"
)

var checkpointLink string

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Keep document history in the configured archive",
}

var archivePutCmd = &cobra.Command{
	Use:   "put FILE...",
	Short: "Archive updates and print the link of the resulting checkpoint",
	Long: `Archive updates and print the link of the resulting checkpoint.
With --checkpoint, the updates extend that checkpoint's document.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		updates, err := readInputs(cmd, args)
		if err != nil {
			return err
		}
		return withArchive(cmd, func(ctx context.Context, a *ydoc.Archive) error {
			doc, prev, err := restore(ctx, a, checkpointLink)
			if err != nil {
				return err
			}
			err = doc.Transact(func(txn *ydoc.Transaction) error {
				for i, u := range updates {
					if err := doc.ApplyUpdate(txn, u); err != nil {
						return fmt.Errorf("%s: %w", args[i], err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			link, err := checkpoint(ctx, a, doc, prev)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		})
	},
}

var archiveGetCmd = &cobra.Command{
	Use:   "get CHECKPOINT",
	Short: "Write the whole document of a checkpoint as one update",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(cmd, func(ctx context.Context, a *ydoc.Archive) error {
			doc, _, err := restore(ctx, a, args[0])
			if err != nil {
				return err
			}
			update, err := doc.Update(nil)
			if err != nil {
				return err
			}
			return writeOutput(cmd, update)
		})
	},
}

var archiveCompactCmd = &cobra.Command{
	Use:   "compact CHECKPOINT",
	Short: "Merge a checkpoint's updates into one blob and print the new checkpoint link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(cmd, func(ctx context.Context, a *ydoc.Archive) error {
			cp, err := a.GetCheckpoint(ctx, args[0])
			if err != nil {
				return err
			}
			compacted, err := a.Compact(ctx, cp)
			if err != nil {
				return err
			}
			link, err := a.PutCheckpoint(ctx, compacted)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		})
	},
}

// withArchive opens the configured archive for the duration of fn.
func withArchive(cmd *cobra.Command, fn func(context.Context, *ydoc.Archive) error) error {
	a, closer, err := cfg.Archive.openArchive(slog.Default())
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	err = fn(cmd.Context(), a)
	if cerr := closer(); err == nil {
		err = cerr
	}
	return err
}

// restore loads the document of the checkpoint named link. An empty link
// yields a new empty document and no checkpoint.
func restore(ctx context.Context, a *ydoc.Archive, link string) (*ydoc.Document, *ydoc.Checkpoint, error) {
	if link == "" {
		return ydoc.NewDocument(nil), nil, nil
	}
	cp, err := a.GetCheckpoint(ctx, link)
	if err != nil {
		return nil, nil, err
	}
	doc := ydoc.NewDocument(&ydoc.DocumentOptions{GUID: cp.GUID})
	err = doc.Transact(func(txn *ydoc.Transaction) error {
		return a.Restore(ctx, cp, txn)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("restore %s: %w", link, err)
	}
	slog.Debug("restored checkpoint", "link", link, "guid", cp.GUID, "updates", len(cp.Links))
	return doc, cp, nil
}

// checkpoint saves doc beyond prev and stores the resulting checkpoint.
func checkpoint(ctx context.Context, a *ydoc.Archive, doc *ydoc.Document, prev *ydoc.Checkpoint) (string, error) {
	cp, err := a.Save(ctx, doc, prev)
	if err != nil {
		return "", err
	}
	return a.PutCheckpoint(ctx, cp)
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archivePutCmd, archiveGetCmd, archiveCompactCmd)
	archivePutCmd.Flags().StringVar(&checkpointLink, "checkpoint", "", "Checkpoint to extend")
	archiveGetCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default standard output)")
}
