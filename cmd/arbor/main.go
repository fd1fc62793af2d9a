// Command arbor drives an in-memory resource from a line-oriented script,
// printing a depth-indented tree dump (each element with its stored hash
// and counts) and the transaction's summary line after each commit or dump
// command and at end of input; it does not recompute hashes to check the
// stored ones. It exercises the package's public API the way the teacher's
// own repl/bench commands exercised garland's.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/add09/arbor"
)

func main() {
	hashKind := flag.String("hash", "rolling", "hash maintenance strategy: none, rolling, postorder")
	compress := flag.Bool("compress", false, "enable value compression above the threshold")
	scriptPath := flag.String("script", "", "path to a command script; defaults to stdin")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	kind, err := parseHashKind(*hashKind)
	if err != nil {
		fmt.Fprintln(os.Stderr, "arbor:", err)
		os.Exit(2)
	}

	cfg, err := arbor.NewResourceConfig(arbor.ResourceConfig{
		HashKind:    kind,
		Compression: *compress,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "arbor:", err)
		os.Exit(2)
	}

	session := arbor.NewSession(cfg)
	tx := session.Begin()

	in := os.Stdin
	if *scriptPath != "" {
		f, err := os.Open(*scriptPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "arbor:", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	run(tx, session, in, os.Stdout)
}

func parseHashKind(s string) (arbor.HashKind, error) {
	switch strings.ToLower(s) {
	case "none":
		return arbor.HashNone, nil
	case "rolling":
		return arbor.HashRolling, nil
	case "postorder":
		return arbor.HashPostorder, nil
	default:
		return 0, fmt.Errorf("unknown hash kind %q", s)
	}
}

func parseHint(s string) (arbor.InsertHint, error) {
	switch strings.ToLower(s) {
	case "first", "firstchild", "as-first-child":
		return arbor.AsFirstChild, nil
	case "left", "leftsibling", "as-left-sibling":
		return arbor.AsLeftSibling, nil
	case "right", "rightsibling", "as-right-sibling":
		return arbor.AsRightSibling, nil
	default:
		return 0, fmt.Errorf("unknown insert hint %q", s)
	}
}

// run replays one command per line against tx, printing a tree dump after
// every "dump" and "commit" command, and a terminal one at EOF.
func run(tx *arbor.Transaction, session *arbor.Session, in *os.File, out *os.File) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if err := dispatch(tx, session, fields, out); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintln(out, "error:", err)
	}
	printDump(tx, out)
}

func dispatch(tx *arbor.Transaction, session *arbor.Session, fields []string, out *os.File) error {
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "insert-element":
		if len(args) < 2 {
			return fmt.Errorf("insert-element <name> <hint>")
		}
		hint, err := parseHint(args[1])
		if err != nil {
			return err
		}
		key, err := tx.InsertElement(hint, arbor.QName{Local: args[0]})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "inserted element %s -> key %d\n", args[0], key)
	case "insert-text":
		if len(args) < 2 {
			return fmt.Errorf("insert-text <value> <hint>")
		}
		hint, err := parseHint(args[1])
		if err != nil {
			return err
		}
		key, err := tx.InsertText(hint, []byte(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "inserted text %q -> key %d\n", args[0], key)
	case "insert-attribute":
		if len(args) < 2 {
			return fmt.Errorf("insert-attribute <name> <value>")
		}
		key, err := tx.InsertAttribute(arbor.QName{Local: args[0]}, []byte(args[1]), arbor.MoveToParent)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "inserted attribute %s=%q -> key %d\n", args[0], args[1], key)
	case "insert-namespace":
		if len(args) < 2 {
			return fmt.Errorf("insert-namespace <prefix> <uri>")
		}
		key, err := tx.InsertNamespace(args[0], args[1], arbor.MoveToParent)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "inserted namespace %s=%q -> key %d\n", args[0], args[1], key)
	case "remove":
		if err := tx.Remove(); err != nil {
			return err
		}
		fmt.Fprintln(out, "removed current node")
	case "move":
		if len(args) < 2 {
			return fmt.Errorf("move <sourceKey> <hint>")
		}
		src, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		hint, err := parseHint(args[1])
		if err != nil {
			return err
		}
		if err := tx.MoveSubtree(arbor.NodeKey(src), hint); err != nil {
			return err
		}
		fmt.Fprintf(out, "moved %d\n", src)
	case "to":
		if len(args) < 1 {
			return fmt.Errorf("to <key>")
		}
		key, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		if !tx.Cursor().To(arbor.NodeKey(key)) {
			return fmt.Errorf("no live node %d", key)
		}
	case "to-parent":
		tx.Cursor().ToParent()
	case "to-first-child":
		tx.Cursor().ToFirstChild()
	case "to-left-sibling":
		tx.Cursor().ToLeftSibling()
	case "to-right-sibling":
		tx.Cursor().ToRightSibling()
	case "commit":
		if err := tx.Commit(); err != nil {
			return err
		}
		fmt.Fprintln(out, "committed revision", tx.RevisionNumber()-1)
		printDump(tx, out)
	case "abort":
		if err := tx.Abort(); err != nil {
			return err
		}
		fmt.Fprintln(out, "aborted")
	case "dump":
		printDump(tx, out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// printDump renders the tree rooted at the document root in depth-indented
// document order via the cursor's own move methods, restoring the cursor's
// prior position afterward, then prints the transaction's diagnostic
// summary line.
func printDump(tx *arbor.Transaction, out *os.File) {
	c := tx.Cursor()
	origin := c.Key()
	c.ToDocumentRoot()
	dumpNode(c, out, 0)
	c.To(origin)
	fmt.Fprintf(out, "%s\n", tx.String())
}

func dumpNode(c *arbor.Cursor, out *os.File, depth int) {
	kind, err := c.Kind()
	if err != nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	switch kind {
	case arbor.KindElement:
		name, _ := c.QName()
		hash, _ := c.Hash()
		childCount, _ := c.ChildCount()
		descCount, _ := c.DescendantCount()
		fmt.Fprintf(out, "%s<%s> key=%d hash=%#x child_count=%d descendant_count=%d\n",
			indent, name, c.Key(), hash, childCount, descCount)
	case arbor.KindText:
		value, _ := c.Value()
		fmt.Fprintf(out, "%s%q key=%d\n", indent, value, c.Key())
	case arbor.KindRoot:
		fmt.Fprintf(out, "%sROOT key=%d\n", indent, c.Key())
	}

	if c.ToFirstChild() {
		dumpNode(c, out, depth+1)
		for c.ToRightSibling() {
			dumpNode(c, out, depth+1)
		}
		c.ToParent()
	}
}
