package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/embedding/embedding"
	"github.com/jacentio/embedding/internal/invoice"
)

func newDemoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Create, edit, replace and destroy an invoice with embedded items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sess, b, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer b.Close()
			if err := b.createTables(ctx, a.registry); err != nil {
				return err
			}
			return runDemo(ctx, a, sess, cmd.OutOrStdout())
		},
	}
}

type demoStep struct {
	Step    string             `json:"step" yaml:"step"`
	Total   float64            `json:"total" yaml:"total"`
	Invoice embedding.Document `json:"invoice,omitempty" yaml:"invoice,omitempty"`
}

func runDemo(ctx context.Context, a *app, sess *embedding.Session, w io.Writer) error {
	inv, err := sess.New(invoice.TypeName)
	if err != nil {
		return err
	}

	report := func(step string) error {
		total, err := invoice.Total(ctx, inv)
		if err != nil {
			return err
		}
		doc, err := sess.ToDocument(ctx, inv, embedding.DocumentOptions{})
		if err != nil {
			return err
		}
		return a.render(w, demoStep{Step: step, Total: total, Invoice: doc})
	}

	err = sess.UpdateAttributes(ctx, inv, embedding.Attributes{
		"recipient_email": "billing@example.com",
		"items": []any{
			map[string]any{"description": "Item 1", "amount": 1, "value": 10},
			map[string]any{"description": "Item 2", "amount": 2, "value": 8},
		},
	})
	if err != nil {
		return err
	}
	if err := report("create"); err != nil {
		return err
	}

	items, err := inv.VisibleChildren(ctx, invoice.Items)
	if err != nil {
		return err
	}
	err = sess.UpdateAttributes(ctx, inv, embedding.Attributes{
		"items": []any{
			map[string]any{"id": items[0].ID, "amount": 3},
			map[string]any{"id": items[1].ID, "_destroy": true},
		},
	})
	if err != nil {
		return err
	}
	if err := report("edit"); err != nil {
		return err
	}

	err = sess.UpdateAttributes(ctx, inv, embedding.Attributes{
		"items": []any{map[string]any{"description": "Item 3", "amount": 1, "value": 10}},
	})
	if err != nil {
		return err
	}
	if err := report("replace"); err != nil {
		return err
	}

	id := inv.ID()
	if err := sess.Destroy(ctx, inv); err != nil {
		return err
	}
	a.logger.Info("demo invoice destroyed", "id", id)
	return a.render(w, demoStep{Step: "destroy"})
}

func newApplyCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply TYPE [ID]",
		Short: "Create or update an entity from a JSON or YAML payload",
		Long: `Assign a payload to a new entity, or to the persisted entity ID, and save it.

Embedded relations are given as sequences under their name. Entries carrying
an id update that child; entries without one create a child; children left
out of the sequence are destroyed.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			payload, err := readPayload(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			sess, b, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			var e *embedding.Entity
			if len(args) == 2 {
				e, err = sess.Load(ctx, args[0], args[1])
			} else {
				e, err = sess.New(args[0])
			}
			if err != nil {
				return err
			}
			if err := sess.UpdateAttributes(ctx, e, payload); err != nil {
				return err
			}

			doc, err := sess.ToDocument(ctx, e, embedding.DocumentOptions{})
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), doc)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "payload file, - for stdin")
	return cmd
}

// readPayload decodes a YAML or JSON mapping.
func readPayload(stdin io.Reader, file string) (embedding.Attributes, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	var payload map[string]any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if payload == nil {
		return nil, errors.New("decode payload: empty payload")
	}
	return embedding.Attributes(payload), nil
}

func newShowCmd(a *app) *cobra.Command {
	var opts embedding.DocumentOptions
	cmd := &cobra.Command{
		Use:   "show TYPE ID",
		Short: "Print a persisted entity with its visible children",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, b, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			e, err := sess.Load(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("include") {
				opts.Include = nil
			}
			doc, err := sess.ToDocument(ctx, e, opts)
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), doc)
		},
	}
	cmd.Flags().StringSliceVar(&opts.Only, "only", nil, "plain attributes to keep")
	cmd.Flags().StringSliceVar(&opts.Except, "except", nil, "plain attributes to drop")
	cmd.Flags().StringSliceVar(&opts.Include, "include", nil, "embedded relations to include (default all)")
	return cmd
}

func newDestroyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy TYPE ID",
		Short: "Delete an entity and all of its embedded children",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, b, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			e, err := sess.Load(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			ref := e.Ref()
			if err := sess.Destroy(ctx, e); err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), map[string]string{"destroyed": ref})
		},
	}
}

type relationInfo struct {
	Name       string   `json:"name" yaml:"name"`
	ChildTable string   `json:"child_table" yaml:"child_table"`
	ForeignKey string   `json:"foreign_key" yaml:"foreign_key"`
	Fields     []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

type typeInfo struct {
	Type      string         `json:"type" yaml:"type"`
	Table     string         `json:"table" yaml:"table"`
	Fields    []string       `json:"fields,omitempty" yaml:"fields,omitempty"`
	Relations []relationInfo `json:"relations" yaml:"relations"`
}

func newSchemaCmd(a *app) *cobra.Command {
	var create bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the declared types and their embedded relations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if create {
				b, err := a.open(ctx, a)
				if err != nil {
					return err
				}
				defer b.Close()
				if err := b.createTables(ctx, a.registry); err != nil {
					return err
				}
				a.logger.Info("tables created", "backend", a.cfg.Backend)
			}
			return a.render(cmd.OutOrStdout(), describe(a.registry))
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "create the backend's tables first")
	return cmd
}

func describe(reg *embedding.Registry) []typeInfo {
	types := reg.Types()
	out := make([]typeInfo, 0, len(types))
	for _, typ := range types {
		info := typeInfo{
			Type:      typ.Name(),
			Table:     typ.Table(),
			Fields:    typ.Fields(),
			Relations: []relationInfo{},
		}
		for _, rel := range typ.Relations() {
			info.Relations = append(info.Relations, relationInfo{
				Name:       rel.Name(),
				ChildTable: rel.ChildTable(),
				ForeignKey: rel.ForeignKey(),
				Fields:     rel.Fields(),
			})
		}
		out = append(out, info)
	}
	return out
}
