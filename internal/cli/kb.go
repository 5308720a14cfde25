package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentplexus/omnivoice-bridge/internal/config"
	"github.com/agentplexus/omnivoice-bridge/internal/rag"
)

func newKnowledgeCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:     "knowledge",
		Aliases: []string{"kb"},
		Short:   "Manage a tenant's knowledge base",
	}
	cmd.PersistentFlags().StringVar(&tenant, "tenant", "", "tenant id")
	_ = cmd.MarkPersistentFlagRequired("tenant")

	cmd.AddCommand(newKnowledgeAddCmd(&tenant))
	cmd.AddCommand(newKnowledgeSearchCmd(&tenant))
	cmd.AddCommand(newKnowledgeListCmd(&tenant))
	cmd.AddCommand(newKnowledgeDeleteCmd(&tenant))

	return cmd
}

// withStore opens the knowledge base for the duration of fn. The config is
// read without validation; only the knowledge path matters here.
func withStore(fn func(ctx context.Context, store *rag.Store) error) error {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return err
	}
	store, err := rag.Open(knowledgePath(cfg), log)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(context.Background(), store)
}

func newKnowledgeAddCmd(tenant *string) *cobra.Command {
	var title, file, id string

	cmd := &cobra.Command{
		Use:   "add [text...]",
		Short: "Add a document from --file or the arguments",
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				content = string(data)
				if title == "" {
					title = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
				}
			}
			if strings.TrimSpace(content) == "" {
				return fmt.Errorf("nothing to add: pass text or --file")
			}

			return withStore(func(ctx context.Context, store *rag.Store) error {
				doc, err := store.Add(ctx, rag.Document{ID: id, TenantID: *tenant, Title: title, Content: content})
				if err != nil {
					return err
				}
				fmt.Printf("Added %s (%d chars)\n", doc.ID, len(doc.Content))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "document title")
	cmd.Flags().StringVar(&file, "file", "", "read content from a file")
	cmd.Flags().StringVar(&id, "id", "", "document id (replaces an existing document)")
	return cmd
}

func newKnowledgeSearchCmd(tenant *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search the knowledge base the way a call would",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withStore(func(ctx context.Context, store *rag.Store) error {
				hits, err := store.Search(ctx, *tenant, query, limit)
				if err != nil {
					return err
				}
				if len(hits) == 0 {
					fmt.Println("No matches.")
					return nil
				}
				for _, h := range hits {
					fmt.Printf("%.2f  %s  %s\n      %s\n", h.Score, h.DocumentID, h.Title, truncate(h.Content, 120))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum results")
	return cmd
}

func newKnowledgeListCmd(tenant *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *rag.Store) error {
				docs, err := store.List(ctx, *tenant, limit)
				if err != nil {
					return err
				}
				if len(docs) == 0 {
					fmt.Println("No documents.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTITLE\tCREATED\tCHARS")
				for _, d := range docs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", d.ID, dash(d.Title), d.CreatedAt.Format("2006-01-02 15:04"), len(d.Content))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum documents")
	return cmd
}

func newKnowledgeDeleteCmd(tenant *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *rag.Store) error {
				if err := store.Delete(ctx, *tenant, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
