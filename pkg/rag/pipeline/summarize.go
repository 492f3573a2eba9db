package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"rag-chat-be/pkg/utils"

	"golang.org/x/sync/errgroup"
)

// summarize condenses retrieved text: one model call per fixed-size chunk,
// then one call to merge the chunk summaries. A failed chunk contributes an
// empty summary; a failed merge returns the chunk summaries joined verbatim.
func (p *Pipeline) summarize(ctx context.Context, sessionKey, text string) string {
	chunks := utils.ChunkFixed(text, p.cfg.ChunkSize)
	if len(chunks) == 0 {
		return ""
	}

	total := len(chunks)
	summaries := make([]string, total)
	var finished atomic.Int32

	var g errgroup.Group
	g.SetLimit(p.cfg.SummaryConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			out, err := p.complete(ctx, chunkSummaryPrompt(chunk))
			if err != nil {
				p.deps.Logger.Warn("PIPELINE", "Chunk summary failed", map[string]interface{}{
					"session_key": sessionKey,
					"chunk":       i + 1,
					"error":       err.Error(),
				})
			}
			summaries[i] = out
			p.notify(sessionKey, fmt.Sprintf(msgChunkProgress, finished.Add(1), total))
			return nil
		})
	}
	_ = g.Wait()

	nonEmpty := make([]string, 0, total)
	for _, s := range summaries {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	combined := strings.Join(nonEmpty, "\n\n")

	final, err := p.complete(ctx, combinePrompt(combined))
	if err != nil {
		p.deps.Logger.Warn("PIPELINE", "Combine summary failed, using chunk summaries", map[string]interface{}{
			"session_key": sessionKey,
			"error":       err.Error(),
		})
		return combined
	}
	return final
}
