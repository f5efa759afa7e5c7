// Package conversation assembles retrieval context into prompts and keeps
// the message history of a chat.
//
// A State is a value: Ask never mutates the State it is given and returns a
// new one, so callers (the HTTP layer, the CLI) own the history and can keep
// it wherever they like.
package conversation

import (
	"github.com/fyrsmithlabs/mediarag/internal/apperr"
	"github.com/fyrsmithlabs/mediarag/internal/llm"
)

// DefaultSystemPrompt frames the assistant for the podcast and movie
// knowledge base.
const DefaultSystemPrompt = `You are an enthusiastic AI assistant with expertise in both podcasts and movies. You have access to a knowledge base containing information about podcast episodes and movie descriptions. When answering questions, you will be provided with relevant context from both sources. Your job is to:
1. Formulate clear, concise answers using the provided context
2. Mention whether the information comes from podcasts, movies, or both
3. If you find relevant information from both sources, feel free to mention both
4. If you are unsure and cannot find the answer in the context, say "Sorry, I don't know the answer."
5. Do not make up information - only use what's provided in the context

Be friendly, enthusiastic, and helpful!`

// State is an append-only message history whose first message is the
// system prompt.
type State struct {
	messages []llm.Message
}

// NewState returns a history holding only the system prompt.
func NewState(systemPrompt string) State {
	return State{messages: []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}}
}

// FromMessages rebuilds a State from a caller-held history. The configured
// systemPrompt always ends up at position 0: a leading system message is
// replaced by it, and it is prepended when absent. System messages anywhere
// else are rejected.
func FromMessages(messages []llm.Message, systemPrompt string) (State, error) {
	const op = "conversation.FromMessages"

	s := NewState(systemPrompt)
	for i, m := range messages {
		if !m.Role.Valid() {
			return State{}, apperr.InvalidInput(op, "message %d has unknown role %q", i, m.Role)
		}
		if m.Role == llm.RoleSystem {
			if i == 0 {
				continue
			}
			return State{}, apperr.InvalidInput(op, "message %d: system messages are only allowed first", i)
		}
		s.messages = append(s.messages, m)
	}
	return s, nil
}

// Messages returns a copy of the history.
func (s State) Messages() []llm.Message {
	return append([]llm.Message(nil), s.messages...)
}

// Len returns the number of messages.
func (s State) Len() int { return len(s.messages) }

// IsZero reports whether s has never been seeded.
func (s State) IsZero() bool { return len(s.messages) == 0 }

// Last returns the final message, if any.
func (s State) Last() (llm.Message, bool) {
	if len(s.messages) == 0 {
		return llm.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// with returns a new State with m appended. s is left untouched.
func (s State) with(m llm.Message) State {
	next := make([]llm.Message, len(s.messages), len(s.messages)+1)
	copy(next, s.messages)
	return State{messages: append(next, m)}
}
