package pipeline

import (
	"fmt"
	"strings"
)

const (
	MsgGenerateFailed = "⚠️ Failed to generate RAG response."
	MsgFallbackFailed = "⚠️ Fallback LLM failed."
	MsgUsingRetrieval = "🛠️ Using RAG"
	MsgUsingFallback  = "🛠️ Using Fallback"
	msgChunkProgress  = "⏳ Summarizing chunk %d/%d..."

	uploadSummaryHeader = "[Uploaded File Summary]:"
)

func chunkSummaryPrompt(chunk string) string {
	return fmt.Sprintf("Summarize the following document excerpt briefly:\n%s\nChunk summary:", chunk)
}

func combinePrompt(summaries string) string {
	return fmt.Sprintf("Combine the following summaries (<=300 words):\n%s\nFinal summary:", summaries)
}

func retrievalPrompt(summary, conversation, input string) string {
	return fmt.Sprintf("RAG Summary:\n%s\nConversation:\n%s\nUser: %s", summary, conversation, input)
}

func fallbackPrompt(conversation, summary, input string) string {
	if summary != "" {
		conversation += "\n\n" + uploadSummaryHeader + "\n" + summary
	}
	return fmt.Sprintf("%s\nUser: %s", conversation, input)
}

// QueryPrompt is the single-shot prompt of the direct question API.
func QueryPrompt(context, question string) string {
	return fmt.Sprintf("Use the following context to answer the question.\n\nContext:\n%s\n\nQuestion: %s\nAnswer:", context, question)
}

func formatConversation(history []HistoryMessage) string {
	lines := make([]string, len(history))
	for i, m := range history {
		lines[i] = m.Role + ": " + m.Text
	}
	return strings.Join(lines, "\n")
}
