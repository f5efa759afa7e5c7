package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	apihttp "github.com/fyrsmithlabs/mediarag/internal/http"
	"github.com/fyrsmithlabs/mediarag/internal/llm"
	"github.com/fyrsmithlabs/mediarag/internal/service"
)

// conversationFile is the on-disk history kept between ask invocations.
type conversationFile struct {
	Messages []llm.Message `json:"messages"`
}

func defaultConversationPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mediarag-conversation.json"
	}
	return filepath.Join(home, ".local", "share", "mediarag", "conversation.json")
}

func loadConversation(path string) ([]llm.Message, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation %s: %w", path, err)
	}
	var f conversationFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse conversation %s: %w", path, err)
	}
	return f.Messages, nil
}

func saveConversation(path string, messages []llm.Message) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(conversationFile{Messages: messages}, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write conversation: %w", err)
	}
	return os.Rename(tmp, path)
}

func newAskCmd(opts *options) *cobra.Command {
	var path string
	var reset bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the assistant a question",
		Long: `Ask the assistant a question. The conversation is kept in a local file so
follow-up questions have the earlier turns as context. A failed turn leaves
the file unchanged.

Examples:
  mragctl ask "Any podcasts about space?"
  mragctl ask "Which of those is the newest?"
  mragctl ask --reset "Recommend a heist movie"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var history []llm.Message
			if !reset {
				var err error
				if history, err = loadConversation(path); err != nil {
					return err
				}
			}

			var res service.ConverseResult
			var raw []byte
			req := apihttp.ChatRequest{Messages: history, Query: args[0]}
			if err := newClient(opts).do(cmd.Context(), http.MethodPost, "/api/v1/chat", req, &res, &raw); err != nil {
				return err
			}
			if err := saveConversation(path, res.Messages); err != nil {
				return err
			}
			printResult(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintln(w, res.Answer)
				if res.Sources != "" {
					fmt.Fprintf(w, "\n(sources: %s, best match %.0f%%)\n", res.Sources, res.MaxSimilarity*100)
				}
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "conversation", defaultConversationPath(), "conversation history file")
	cmd.Flags().BoolVar(&reset, "reset", false, "start a new conversation")
	return cmd
}
