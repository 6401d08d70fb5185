package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maruel/datarepo/internal/datarepo"
	"github.com/maruel/datarepo/internal/objfile"
	"github.com/maruel/datarepo/internal/schema"
)

var errUsage = errors.New("invalid arguments, see -help")

func (a *app) run(ctx context.Context, args []string) error {
	return a.runTo(ctx, os.Stdout, args)
}

func (a *app) runTo(ctx context.Context, w io.Writer, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "types":
		if len(rest) != 0 {
			return errUsage
		}
		return a.types(w)
	case "ls":
		if len(rest) < 1 || len(rest) > 2 {
			return errUsage
		}
		dir := ""
		if len(rest) == 2 {
			dir = rest[1]
		}
		return a.ls(ctx, w, rest[0], dir)
	case "catalog":
		if len(rest) != 1 {
			return errUsage
		}
		return a.catalog(ctx, w, rest[0])
	case "schema":
		if len(rest) != 1 {
			return errUsage
		}
		return a.printSchema(ctx, w, rest[0])
	case "rm":
		if len(rest) < 2 || len(rest) > 3 {
			return errUsage
		}
		if len(rest) == 3 {
			return a.rm(ctx, w, rest[0], rest[1], rest[2])
		}
		return a.rmAll(ctx, w, rest[0], rest[1])
	case "log":
		n := 20
		switch len(rest) {
		case 0:
		case 1:
			var err error
			if n, err = strconv.Atoi(rest[0]); err != nil || n <= 0 {
				return fmt.Errorf("invalid count %q", rest[0])
			}
		default:
			return errUsage
		}
		return a.history(ctx, w, n)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) types(w io.Writer) error {
	dirs, err := a.repo.TypeDirs()
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if _, err := fmt.Fprintln(w, d); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) ls(ctx context.Context, w io.Writer, typeDir, directory string) error {
	entries, err := a.repo.LoadHeadersDir(ctx, typeDir, directory)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSAVED\tTYPE")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.SavedAt.UTC().Format(time.RFC3339), e.RootIdentity)
	}
	return tw.Flush()
}

// catalogDoc is the YAML rendition of a data file catalog.
type catalogDoc struct {
	Name    string    `yaml:"name"`
	SavedAt time.Time `yaml:"saved_at"`
	Root    string    `yaml:"root"`
	Types   []typeDoc `yaml:"types"`
}

type typeDoc struct {
	Index      int         `yaml:"index"`
	Identity   string      `yaml:"identity"`
	Flags      []string    `yaml:"flags,flow,omitempty"`
	Objects    int32       `yaml:"objects,omitempty"`
	Size       int64       `yaml:"size,omitempty"`
	Problem    string      `yaml:"problem,omitempty"`
	Fields     []memberDoc `yaml:"fields,omitempty"`
	Properties []memberDoc `yaml:"properties,omitempty"`
}

type memberDoc struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Unloadable bool   `yaml:"unloadable,omitempty"`
}

var flagNames = []struct {
	f    schema.Flags
	name string
}{
	{schema.FlagPrimitive, "primitive"},
	{schema.FlagPrivate, "private"},
	{schema.FlagPublic, "public"},
	{schema.FlagStatic, "static"},
	{schema.FlagSerialized, "serialized"},
	{schema.FlagHasConstructor, "constructor"},
	{schema.FlagHasSubType, "subtype"},
}

func (a *app) inspect(ctx context.Context, path string) (objfile.Header, *schema.Catalog, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is supplied by the operator.
	if err != nil {
		return objfile.Header{}, nil, err
	}
	defer func() { _ = f.Close() }()
	return objfile.Inspect(ctx, f, a.res)
}

func (a *app) catalog(ctx context.Context, w io.Writer, path string) error {
	h, cat, err := a.inspect(ctx, path)
	if err != nil {
		return err
	}
	doc := catalogDoc{Name: h.Name, SavedAt: h.SavedAt.UTC(), Root: h.RootIdentity}
	for _, s := range cat.Schemas() {
		td := typeDoc{
			Index:      s.TypeIndex,
			Identity:   s.Identity,
			Objects:    s.NumObjects,
			Size:       s.DataSize,
			Fields:     members(cat, s.Fields),
			Properties: members(cat, s.Properties),
		}
		for _, fn := range flagNames {
			if s.Flags.Has(fn.f) {
				td.Flags = append(td.Flags, fn.name)
			}
		}
		if s.Problem != nil {
			td.Problem = s.Problem.Error()
		}
		doc.Types = append(doc.Types, td)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	return enc.Close()
}

func members(cat *schema.Catalog, ms []*schema.MemberSchema) []memberDoc {
	var out []memberDoc
	for _, m := range ms {
		md := memberDoc{Name: m.Name, Unloadable: !m.IsLoadable()}
		if t := cat.At(int(m.TypeIndex)); t != nil {
			md.Type = t.Identity
		}
		out = append(out, md)
	}
	return out
}

func (a *app) printSchema(ctx context.Context, w io.Writer, path string) error {
	h, cat, err := a.inspect(ctx, path)
	if err != nil {
		return err
	}
	root := -1
	for _, s := range cat.Schemas() {
		if s.Identity == h.RootIdentity {
			root = s.TypeIndex
			break
		}
	}
	data, err := json.MarshalIndent(cat.JSONSchema(root), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func (a *app) rm(ctx context.Context, w io.Writer, typeDir, directory, name string) error {
	return printReport(w, a.repo.Delete(ctx, typeDir, directory, name))
}

func (a *app) rmAll(ctx context.Context, w io.Writer, typeDir, directory string) error {
	return printReport(w, a.repo.DeleteAll(ctx, typeDir, directory))
}

// printReport lists the removed paths and returns the failures.
func printReport(w io.Writer, report datarepo.DeleteReport) error {
	for _, r := range report {
		if r.Err == nil {
			_, _ = fmt.Fprintf(w, "removed %s\n", r.Path)
		}
	}
	return report.Err()
}

func (a *app) history(ctx context.Context, w io.Writer, n int) error {
	if a.journal == nil {
		return errors.New("journal is disabled")
	}
	commits, err := a.journal.History(ctx, n)
	if err != nil {
		return err
	}
	for _, c := range commits {
		if _, err := fmt.Fprintf(w, "%.8s %s %s: %s\n", c.Hash, c.When.UTC().Format(time.RFC3339), c.Author, c.Message); err != nil {
			return err
		}
	}
	return nil
}
