package local

import (
	"strings"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/host"
)

// Chunker splits text by rune count
type Chunker struct {
	Mode host.ChunkMode // Zero value means markdown
}

// ResolveChunkMode returns the configured mode for every channel and account
func (c Chunker) ResolveChunkMode(_ *config.Config, _, _ string) host.ChunkMode {
	if c.Mode == "" {
		return host.ChunkModeMarkdown
	}
	return c.Mode
}

// ChunkText splits text into pieces of at most limit runes
func (c Chunker) ChunkText(text string, limit int, mode host.ChunkMode) []string {
	if mode == host.ChunkModeText {
		return ChunkLines(text, limit)
	}
	return ChunkParagraphs(text, limit)
}

// ChunkLines splits text at newline boundaries, respecting the rune limit
func ChunkLines(text string, limit int) []string {
	return chunkBy(text, limit, "\n", splitLongLine)
}

// ChunkParagraphs splits text at blank lines, falling back to line splitting for long paragraphs
func ChunkParagraphs(text string, limit int) []string {
	return chunkBy(text, limit, "\n\n", ChunkLines)
}

// chunkBy packs sep-separated pieces greedily; pieces longer than limit go through split
func chunkBy(text string, limit int, sep string, split func(string, int) []string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}

	sepLen := runeLen(sep)
	var (
		chunks []string
		buf    []string
		bufLen int
	)
	flush := func() {
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, sep))
			buf, bufLen = buf[:0], 0
		}
	}

	for _, piece := range strings.Split(trimmed, sep) {
		pieceLen := runeLen(piece)
		extra := 0
		if len(buf) > 0 {
			extra = sepLen
		}
		if bufLen+extra+pieceLen <= limit {
			buf = append(buf, piece)
			bufLen += extra + pieceLen
			continue
		}
		flush()
		if pieceLen <= limit {
			buf = append(buf, piece)
			bufLen = pieceLen
			continue
		}
		chunks = append(chunks, split(piece, limit)...)
	}
	flush()
	return chunks
}

func runeLen(value string) int {
	return len([]rune(value))
}

func splitLongLine(line string, limit int) []string {
	runes := []rune(line)
	var chunks []string
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		if segment := strings.TrimSpace(string(runes[start:end])); segment != "" {
			chunks = append(chunks, segment)
		}
	}
	return chunks
}
