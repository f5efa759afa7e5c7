package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	apihttp "github.com/fyrsmithlabs/mediarag/internal/http"
	"github.com/fyrsmithlabs/mediarag/internal/retrieval"
	"github.com/fyrsmithlabs/mediarag/internal/service"
	"github.com/fyrsmithlabs/mediarag/internal/vectorstore"
)

// printResult writes raw JSON when --json is set, otherwise calls human.
func printResult(cmd *cobra.Command, opts *options, raw []byte, human func(w io.Writer)) {
	w := cmd.OutOrStdout()
	if opts.jsonOut {
		fmt.Fprintln(w, strings.TrimSpace(string(raw)))
		return
	}
	human(w)
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check mediarag server health",
		Long: `Check the health of the server and its vector store.

Examples:
  mragctl health
  mragctl health --server http://localhost:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var report service.HealthReport
			var raw []byte
			err := newClient(opts).do(cmd.Context(), http.MethodGet, "/health", nil, &report, &raw)
			if err != nil {
				return err
			}
			printResult(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "Server Status: %s (%s)\n", report.Status, report.Message)
				fmt.Fprintf(w, "Vector Store:  %s healthy=%t\n", report.Store.Backend, report.Store.Healthy)
				fmt.Fprintf(w, "Model:         %s (%d dimensions)\n", report.Model, report.Dimension)
				fmt.Fprintf(w, "Collections:   %s\n", strings.Join(report.Collections, ", "))
			})
			return nil
		},
	}
}

func newEmbedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "embed <text> [text...]",
		Short: "Embed one or more texts",
		Long: `Embed text with the server's embedding model. Several arguments are
embedded as one batch.

Examples:
  mragctl embed "a podcast about space"
  mragctl embed "first text" "second text" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(opts)
			var raw []byte
			if len(args) == 1 {
				var res service.EmbeddingResult
				if err := c.do(cmd.Context(), http.MethodPost, "/api/v1/embeddings", apihttp.EmbeddingsRequest{Text: args[0]}, &res, &raw); err != nil {
					return err
				}
				printResult(cmd, opts, raw, func(w io.Writer) {
					fmt.Fprintf(w, "model=%s dimensions=%d\n%s\n", res.Model, res.Dimensions, preview(res.Embedding))
				})
				return nil
			}

			var res service.BatchResult
			if err := c.do(cmd.Context(), http.MethodPost, "/api/v1/embeddings", apihttp.EmbeddingsRequest{Texts: args}, &res, &raw); err != nil {
				return err
			}
			printResult(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "model=%s dimensions=%d count=%d\n", res.Model, res.Dimensions, res.Count)
				for _, e := range res.Embeddings {
					fmt.Fprintf(w, "[%d] %s\n    %s\n", e.Index, truncate(e.Text, 60), preview(e.Vector))
				}
			})
			return nil
		},
	}
}

func newCompareCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <text1> <text2>",
		Short: "Compare the meaning of two texts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res service.Comparison
			var raw []byte
			req := apihttp.CompareRequest{Text1: args[0], Text2: args[1]}
			if err := newClient(opts).do(cmd.Context(), http.MethodPost, "/api/v1/embeddings/compare", req, &res, &raw); err != nil {
				return err
			}
			printResult(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "Similarity: %s (%.4f)\n%s\n", res.SimilarityPercentage, res.Similarity, res.Interpretation)
			})
			return nil
		},
	}
}

func newSearchCmd(opts *options) *cobra.Command {
	var limit int
	var threshold float64
	cmd := &cobra.Command{
		Use:   "search <collection> <query>",
		Short: "Search one collection",
		Long: `Search one collection for documents similar to a query.

Examples:
  mragctl search podcasts "episodes about the moon landing"
  mragctl search movies "heist" --limit 10 --threshold 0.3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := apihttp.SearchRequest{Query: args[1], Limit: &limit, Threshold: &threshold}
			var res service.SearchResult
			var raw []byte
			path := "/api/v1/collections/" + url.PathEscape(args[0]) + "/search"
			if err := newClient(opts).do(cmd.Context(), http.MethodPost, path, req, &res, &raw); err != nil {
				return err
			}
			printResult(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "%d result(s) in %s\n", res.Count, res.Collection)
				printHits(w, res.Results)
			})
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", service.DefaultSearchLimit, "maximum results (1-20)")
	cmd.Flags().Float64Var(&threshold, "threshold", service.DefaultSearchThreshold, "minimum similarity (0-1)")
	return cmd
}

func newSearchAllCmd(opts *options) *cobra.Command {
	var limit int
	var threshold float64
	cmd := &cobra.Command{
		Use:   "search-all <query>",
		Short: "Search every collection and merge the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := apihttp.SearchRequest{Query: args[0]}
			if cmd.Flags().Changed("limit") {
				req.Limit = &limit
			}
			if cmd.Flags().Changed("threshold") {
				req.Threshold = &threshold
			}
			var res struct {
				Results  []vectorstore.SearchHit `json:"results"`
				Failures []retrieval.Failure     `json:"failures"`
			}
			var raw []byte
			if err := newClient(opts).do(cmd.Context(), http.MethodPost, "/api/v1/chat/search-all", req, &res, &raw); err != nil {
				return err
			}
			printResult(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "%d merged result(s)\n", len(res.Results))
				printHits(w, res.Results)
				for _, f := range res.Failures {
					fmt.Fprintf(w, "warning: %s failed: %s\n", f.Collection, f.Message)
				}
			})
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 3, "results per collection")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.3, "minimum similarity (0-1)")
	return cmd
}

func newIngestCmd(opts *options) *cobra.Command {
	var size, overlap int
	var useSeed bool
	cmd := &cobra.Command{
		Use:   "ingest <collection> [file|-]",
		Short: "Chunk a document and store the chunks",
		Long: `Split a file (or stdin) into overlapping chunks and store each chunk in a
collection. With --seed the server processes the collection's seed file.

Examples:
  mragctl ingest podcasts episodes.txt
  cat movies.md | mragctl ingest movies - --chunk-size 800 --chunk-overlap 100
  mragctl ingest podcasts --seed`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := apihttp.ProcessRequest{}
			if cmd.Flags().Changed("chunk-size") {
				req.ChunkSize = &size
			}
			if cmd.Flags().Changed("chunk-overlap") {
				req.ChunkOverlap = &overlap
			}
			switch {
			case useSeed && len(args) == 2:
				return fmt.Errorf("--seed cannot be combined with a file")
			case !useSeed && len(args) == 1:
				return fmt.Errorf("a file (or - for stdin) is required unless --seed is set")
			case !useSeed:
				text, err := readInput(cmd, args[1])
				if err != nil {
					return err
				}
				if strings.TrimSpace(text) == "" {
					return fmt.Errorf("no content to ingest")
				}
				req.Text = text
			}

			var res service.ChunkResult
			var raw []byte
			path := "/api/v1/collections/" + url.PathEscape(args[0]) + "/process"
			if err := newClient(opts).do(cmd.Context(), http.MethodPost, path, req, &res, &raw); err != nil {
				return err
			}
			printResult(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "Stored %d chunk(s) in %s (size=%d overlap=%d strategy=%s)\n",
					res.Count, res.Collection, res.ChunkSize, res.ChunkOverlap, res.Strategy)
			})
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "chunk-size", 500, "chunk size in characters (50-1000)")
	cmd.Flags().IntVar(&overlap, "chunk-overlap", 50, "overlap between chunks in characters")
	cmd.Flags().BoolVar(&useSeed, "seed", false, "process the collection's configured seed file")
	return cmd
}

func newListCmd(opts *options) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "List stored documents, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			path := "/api/v1/collections/" + url.PathEscape(args[0]) + "/documents?" + q.Encode()

			var page vectorstore.Page
			var raw []byte
			if err := newClient(opts).do(cmd.Context(), http.MethodGet, path, nil, &page, &raw); err != nil {
				return err
			}
			printResult(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "%d-%d of %d document(s)\n", page.Offset+min(1, len(page.Items)), page.Offset+len(page.Items), page.Total)
				for _, d := range page.Items {
					fmt.Fprintf(w, "%s  %s  %s\n", d.ID, d.CreatedAt.Format("2006-01-02 15:04:05"), truncate(d.Content, 70))
				}
				if page.HasMore {
					fmt.Fprintf(w, "more: --offset %d\n", page.Offset+page.Limit)
				}
			})
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", apihttp.DefaultListLimit, "page size (1-1000)")
	cmd.Flags().IntVar(&offset, "offset", 0, "documents to skip")
	return cmd
}

func newClearCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear <collection>",
		Short: "Delete every document in a collection",
		Long: `Delete every document in a collection. This cannot be undone, so the
server refuses unless --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("confirm", strconv.FormatBool(yes))
			path := "/api/v1/collections/" + url.PathEscape(args[0]) + "/documents?" + q.Encode()

			var res apihttp.DeleteResponse
			var raw []byte
			if err := newClient(opts).do(cmd.Context(), http.MethodDelete, path, nil, &res, &raw); err != nil {
				return err
			}
			printResult(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %d document(s) from %s\n", res.Deleted, res.Collection)
			})
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

func readInput(cmd *cobra.Command, arg string) (string, error) {
	if arg == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", arg, err)
	}
	return string(data), nil
}

func printHits(w io.Writer, hits []vectorstore.SearchHit) {
	for i, h := range hits {
		fmt.Fprintf(w, "%2d. [%s] %.4f  %s\n", i+1, h.Source, h.Similarity, truncate(h.Content, 80))
	}
}

// preview renders the first few components of a vector.
func preview(v []float32) string {
	n := min(len(v), 5)
	data, _ := json.Marshal(v[:n])
	if n < len(v) {
		return strings.TrimSuffix(string(data), "]") + ", ...]"
	}
	return string(data)
}

// truncate shortens s to at most n runes on one line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
