package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jrhy/ydoc"
)

var (
	outPath   string
	dumpRoots []string
)

var stateCmd = &cobra.Command{
	Use:   "state FILE...",
	Short: "Print the state vector a fresh document would have after the updates",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		merged, err := mergeFiles(cmd, args)
		if err != nil {
			return err
		}
		b, err := ydoc.EncodeStateVectorFromUpdate(merged)
		if err != nil {
			return err
		}
		sv, err := ydoc.DecodeStateVector(b)
		if err != nil {
			return err
		}
		return printJSON(cmd, sv)
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff UPDATE BASE",
	Short: "Write the part of UPDATE not already covered by BASE",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		updates, err := readInputs(cmd, args)
		if err != nil {
			return err
		}
		sv, err := ydoc.EncodeStateVectorFromUpdate(updates[1])
		if err != nil {
			return fmt.Errorf("%s: %w", args[1], err)
		}
		diff, err := ydoc.DiffUpdate(updates[0], sv)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		return writeOutput(cmd, diff)
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge FILE...",
	Short: "Merge updates into one",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		merged, err := mergeFiles(cmd, args)
		if err != nil {
			return err
		}
		return writeOutput(cmd, merged)
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump FILE...",
	Short: "Apply updates to an empty document and print its containers as JSON",
	Long: `Apply updates to an empty document and print its containers as JSON.
Each --root name:kind reads a root as text, array, map or xml-fragment.
Without --root, the root names are listed with the kind known for them.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		updates, err := readInputs(cmd, args)
		if err != nil {
			return err
		}
		doc := ydoc.NewDocument(&ydoc.DocumentOptions{Logger: slog.Default()})
		out := map[string]any{}
		err = doc.Transact(func(txn *ydoc.Transaction) error {
			for i, u := range updates {
				if err := doc.ApplyUpdate(txn, u); err != nil {
					return fmt.Errorf("%s: %w", args[i], err)
				}
			}
			if len(dumpRoots) == 0 {
				for name, s := range doc.Roots(txn) {
					kind := ydoc.KindUndefined
					if s != nil {
						kind = s.Kind()
					}
					out[name] = kind.String()
				}
				return nil
			}
			for _, arg := range dumpRoots {
				name, v, err := dumpRoot(doc, txn, arg)
				if err != nil {
					return err
				}
				out[name] = v
			}
			return nil
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

func dumpRoot(doc *ydoc.Document, txn *ydoc.Transaction, arg string) (string, any, error) {
	i := strings.LastIndexByte(arg, ':')
	if i <= 0 {
		return "", nil, fmt.Errorf("--root %q: want name:kind", arg)
	}
	name := arg[:i]
	kind, err := ydoc.ParseKind(arg[i+1:])
	if err != nil {
		return "", nil, err
	}
	switch kind {
	case ydoc.KindText:
		t, err := doc.GetOrInsertText(name)
		if err != nil {
			return "", nil, err
		}
		return name, t.String(txn), nil
	case ydoc.KindArray:
		a, err := doc.GetOrInsertArray(name)
		if err != nil {
			return "", nil, err
		}
		return name, a.ToJSON(txn), nil
	case ydoc.KindMap:
		m, err := doc.GetOrInsertMap(name)
		if err != nil {
			return "", nil, err
		}
		return name, m.ToJSON(txn), nil
	case ydoc.KindXmlFragment:
		f, err := doc.GetOrInsertXmlFragment(name)
		if err != nil {
			return "", nil, err
		}
		return name, f.String(txn), nil
	}
	return "", nil, fmt.Errorf("--root %q: %s cannot be a root", arg, kind)
}

func mergeFiles(cmd *cobra.Command, paths []string) ([]byte, error) {
	updates, err := readInputs(cmd, paths)
	if err != nil {
		return nil, err
	}
	return ydoc.MergeUpdates(updates...)
}

// readInputs reads each path; "-" is standard input.
func readInputs(cmd *cobra.Command, paths []string) ([][]byte, error) {
	out := make([][]byte, 0, len(paths))
	for _, p := range paths {
		var (
			b   []byte
			err error
		)
		if p == "-" {
			b, err = io.ReadAll(cmd.InOrStdin())
		} else {
			b, err = os.ReadFile(p)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// writeOutput writes b to --out, or to standard output.
func writeOutput(cmd *cobra.Command, b []byte) error {
	if outPath == "" || outPath == "-" {
		_, err := cmd.OutOrStdout().Write(b)
		return err
	}
	return os.WriteFile(outPath, b, 0o644)
}

func printJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func init() {
	rootCmd.AddCommand(stateCmd, diffCmd, mergeCmd, dumpCmd)
	for _, c := range []*cobra.Command{diffCmd, mergeCmd} {
		c.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default standard output)")
	}
	dumpCmd.Flags().StringArrayVar(&dumpRoots, "root", nil, "Root to print, as name:kind (repeatable)")
}
