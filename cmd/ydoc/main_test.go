package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrhy/ydoc"
)

// run executes the CLI with args and returns what it wrote to standard output.
func run(t *testing.T, args ...string) string {
	t.Helper()
	verbose, configPath, backend, storePath = false, "", "", ""
	outPath, dumpRoots, checkpointLink = "", nil, ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), "ydoc %s", strings.Join(args, " "))
	return out.String()
}

func runJSON(t *testing.T, args ...string) map[string]any {
	t.Helper()
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(run(t, args...)), &got))
	return got
}

func writeFile(t *testing.T, dir, name string, b []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, b, 0o644))
	return p
}

// editText inserts s at the end of root text "t" of doc and returns the
// update of that transaction alone.
func editText(t *testing.T, doc *ydoc.Document, s string) []byte {
	t.Helper()
	text, err := doc.GetOrInsertText("t")
	require.NoError(t, err)
	before := doc.State()
	require.NoError(t, doc.Transact(func(txn *ydoc.Transaction) error {
		return text.Insert(txn, text.Len(txn), s, nil)
	}))
	u, err := doc.Update(before)
	require.NoError(t, err)
	return u
}

func TestMergeAndDump(t *testing.T) {
	dir := t.TempDir()
	a := ydoc.NewDocument(&ydoc.DocumentOptions{ClientID: 1})
	b := ydoc.NewDocument(&ydoc.DocumentOptions{ClientID: 2})
	fa := writeFile(t, dir, "a", editText(t, a, "hello"))
	m, err := b.GetOrInsertMap("m")
	require.NoError(t, err)
	require.NoError(t, b.Transact(func(txn *ydoc.Transaction) error {
		return m.Insert(txn, "k", "v")
	}))
	ub, err := b.Update(nil)
	require.NoError(t, err)
	fb := writeFile(t, dir, "b", ub)

	merged := filepath.Join(dir, "merged")
	run(t, "merge", fa, fb, "-o", merged)

	got := runJSON(t, "dump", merged, "--root", "t:text", "--root", "m:map")
	require.Equal(t, map[string]any{"t": "hello", "m": map[string]any{"k": "v"}}, got)

	got = runJSON(t, "dump", merged)
	require.Equal(t, map[string]any{"t": "undefined", "m": "undefined"}, got)
}

func TestState(t *testing.T) {
	dir := t.TempDir()
	doc := ydoc.NewDocument(&ydoc.DocumentOptions{ClientID: 7})
	f1 := writeFile(t, dir, "1", editText(t, doc, "abc"))
	f2 := writeFile(t, dir, "2", editText(t, doc, "de"))

	require.Equal(t, map[string]any{"7": float64(5)}, runJSON(t, "state", f1, f2))

	// a gap leaves only what is covered from clock zero
	require.Empty(t, runJSON(t, "state", f2))
}

func TestDiff(t *testing.T) {
	dir := t.TempDir()
	doc := ydoc.NewDocument(&ydoc.DocumentOptions{ClientID: 3})
	base := writeFile(t, dir, "base", editText(t, doc, "one "))
	editText(t, doc, "two")
	full, err := doc.Update(nil)
	require.NoError(t, err)
	fullPath := writeFile(t, dir, "full", full)

	diffPath := filepath.Join(dir, "diff")
	run(t, "diff", fullPath, base, "-o", diffPath)

	got := runJSON(t, "dump", base, diffPath, "--root", "t:text")
	require.Equal(t, "one two", got["t"])

	got = runJSON(t, "dump", diffPath, "--root", "t:text")
	require.Equal(t, "", got["t"], "diff alone depends on base")
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "store")
	doc := ydoc.NewDocument(&ydoc.DocumentOptions{ClientID: 9})
	f1 := writeFile(t, dir, "1", editText(t, doc, "abc"))
	f2 := writeFile(t, dir, "2", editText(t, doc, "def"))

	link1 := strings.TrimSpace(run(t, "--path", store, "archive", "put", f1))
	link2 := strings.TrimSpace(run(t, "--path", store, "archive", "put", "--checkpoint", link1, f2))
	require.NotEqual(t, link1, link2)

	out := filepath.Join(dir, "out")
	run(t, "--path", store, "archive", "get", link2, "-o", out)
	got := runJSON(t, "dump", out, "--root", "t:text")
	require.Equal(t, "abcdef", got["t"])

	link3 := strings.TrimSpace(run(t, "--path", store, "archive", "compact", link2))
	run(t, "--path", store, "archive", "get", link3, "-o", out)
	got = runJSON(t, "dump", out, "--root", "t:text")
	require.Equal(t, "abcdef", got["t"])
}

func TestArchiveBadger(t *testing.T) {
	dir := t.TempDir()
	config := writeFile(t, dir, "config.yaml", []byte(`
archive:
  backend: badger
  path: `+filepath.Join(dir, "db")+`
`))
	doc := ydoc.NewDocument(&ydoc.DocumentOptions{ClientID: 4})
	f := writeFile(t, dir, "1", editText(t, doc, "xyz"))

	link := strings.TrimSpace(run(t, "--config", config, "archive", "put", f))
	out := filepath.Join(dir, "out")
	run(t, "--config", config, "archive", "get", link, "-o", out)
	got := runJSON(t, "dump", out, "--root", "t:text")
	require.Equal(t, "xyz", got["t"])
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	a, closer, err := ArchiveConfig{Backend: "memory"}.openArchive(slog.Default())
	require.NoError(t, err)
	defer closer()

	src := ydoc.NewDocument(&ydoc.DocumentOptions{ClientID: 5})
	writeFile(t, dir, "0001", editText(t, src, "hello"))

	links := make(chan string, 16)
	w := &watcher{
		dir:          dir,
		archive:      a,
		doc:          ydoc.NewDocument(nil),
		logger:       slog.Default(),
		onCheckpoint: func(link string) { links <- link },
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.run(ctx) }()

	next := func() string {
		select {
		case l := <-links:
			return l
		case <-time.After(5 * time.Second):
			require.FailNow(t, "no checkpoint")
			return ""
		}
	}
	first := next()

	writeFile(t, dir, "0002", editText(t, src, " world"))
	var link string
	for link = next(); ; link = next() {
		cp, err := a.GetCheckpoint(ctx, link)
		require.NoError(t, err)
		if len(cp.Links) == 2 {
			break
		}
	}
	require.NotEqual(t, first, link)
	cancel()
	require.NoError(t, <-done)

	cp, err := a.GetCheckpoint(context.Background(), link)
	require.NoError(t, err)
	doc := ydoc.NewDocument(&ydoc.DocumentOptions{GUID: cp.GUID})
	text, err := doc.GetOrInsertText("t")
	require.NoError(t, err)
	require.NoError(t, doc.Transact(func(txn *ydoc.Transaction) error {
		if err := a.Restore(context.Background(), cp, txn); err != nil {
			return err
		}
		require.Equal(t, "hello world", text.String(txn))
		return nil
	}))
}
