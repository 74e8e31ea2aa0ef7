// Package prompt builds the bounded message sequence sent to the LLM
// (spec.md §4.5): a system message carrying persona and retrieved
// context, the tail of conversation history, and the current utterance.
// It never talks to any backend.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/domain"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/tokens"

	. "github.com/EPIRjewelry/asystent-epir-new-sub000/internal/logging"
)

const systemPreamble = `You are a concise, courteous storefront assistant.
Use only the retrieved material below for factual claims, and cite document ids inline (e.g. "[doc:p1]") where applicable. Never invent facts the retrieved context or conversation history doesn't support.
Always answer in the same language the user wrote in.`

// Assemble builds the ordered message sequence: one system message, the
// last historyTail entries of history, then the current utterance.
func Assemble(history []domain.HistoryEntry, historyTail int, docs []domain.RetrievedDocument, contextBudgetChars int, utterance string) []domain.Message {
	trimmed := fitBudget(docs, contextBudgetChars)

	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.Message{Role: "system", Content: systemMessage(trimmed)})

	tail := history
	if historyTail > 0 && len(history) > historyTail {
		tail = history[len(history)-historyTail:]
	}
	for _, h := range tail {
		messages = append(messages, domain.Message{Role: h.Role, Content: h.Content})
	}

	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: utterance})

	estimated := 0
	for _, m := range messages {
		estimated += tokens.Estimate(m.Content)
	}
	L_debug("prompt: assembled", "messages", len(messages), "docs", len(trimmed), "estimatedTokens", estimated)

	return messages
}

func systemMessage(docs []domain.RetrievedDocument) string {
	if len(docs) == 0 {
		return systemPreamble
	}

	var sb strings.Builder
	sb.WriteString(systemPreamble)
	sb.WriteString("\n\nRetrieved context:\n")
	for _, d := range docs {
		sb.WriteString(fmt.Sprintf("[doc:%s] (score %.2f) %s\n", d.ID, d.Score, d.Text))
	}
	return sb.String()
}

// fitBudget drops whole documents, lowest score first, until the total
// character budget holds. It never truncates mid-document (§9 Design Notes).
func fitBudget(docs []domain.RetrievedDocument, budgetChars int) []domain.RetrievedDocument {
	if budgetChars <= 0 || totalChars(docs) <= budgetChars {
		return docs
	}

	kept := make([]domain.RetrievedDocument, len(docs))
	copy(kept, docs)
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })

	for totalChars(kept) > budgetChars && len(kept) > 0 {
		kept = kept[:len(kept)-1]
	}
	return kept
}

func totalChars(docs []domain.RetrievedDocument) int {
	n := 0
	for _, d := range docs {
		n += len(d.Text)
	}
	return n
}
