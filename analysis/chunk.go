package analysis

import (
	"strings"
)

// DefaultChunkSize is the approximate number of bytes sent to the model at
// once.
const DefaultChunkSize = 1000

// Chunk is a run of whole lines from one file. Lines are numbered from 1
// and EndLine is inclusive.
type Chunk struct {
	Path      string
	StartLine int
	EndLine   int
	Content   string
}

// SplitChunks cuts content into chunks of at least size bytes, never
// splitting a line. The last chunk may be shorter.
func SplitChunks(path, content string, size int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if content == "" {
		return nil
	}

	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var chunks []Chunk
	var current strings.Builder
	start := 1
	for i, line := range lines {
		current.WriteString(line)
		if current.Len() >= size {
			chunks = append(chunks, Chunk{Path: path, StartLine: start, EndLine: i + 1, Content: current.String()})
			current.Reset()
			start = i + 2
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, Chunk{Path: path, StartLine: start, EndLine: len(lines), Content: current.String()})
	}
	return chunks
}
