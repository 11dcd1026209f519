package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/resilience"
)

const maxStreamLine = 1 << 20

// Stream yields response deltas from the NDJSON /api/generate stream. Only
// opening the stream is retried; a broken stream ends with an error.
func (g *Generator) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		request := g.request(prompt, true)
		body, err := resilience.Do(ctx, g.client.executor, "ollama.generate_stream", func(callCtx context.Context) (io.ReadCloser, error) {
			return g.client.openStream(callCtx, "/api/generate", request, "generate_stream")
		}, classifyOllamaError)
		if err != nil {
			yield("", resilience.WrapTemporary("ollama generate stream", err))
			return
		}
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk generateChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				yield("", fmt.Errorf("decode generate stream chunk: %w", err))
				return
			}
			if chunk.Error != "" {
				yield("", fmt.Errorf("ollama generate stream: %s", chunk.Error))
				return
			}
			if chunk.Response != "" && !yield(chunk.Response, nil) {
				return
			}
			if chunk.Done {
				return
			}
		}
		if err := ctx.Err(); err != nil {
			yield("", err)
			return
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("read generate stream: %w", err))
			return
		}
		yield("", fmt.Errorf("read generate stream: %w", io.ErrUnexpectedEOF))
	}
}
