package utils

import "unicode"

// SplitText splits text into chunks of at most chunkSize runes with overlap
// runes repeated at each boundary. A chunk prefers to end on whitespace when
// one exists in its last quarter.
func SplitText(text string, chunkSize int, overlap int) []string {
	if chunkSize <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	totalLen := len(runes)
	if totalLen <= chunkSize {
		return []string{text}
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < totalLen; {
		end := start + chunkSize
		if end >= totalLen {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		floor := end - chunkSize/4
		for cut := end; cut > floor && cut > start+overlap; cut-- {
			if unicode.IsSpace(runes[cut-1]) {
				end = cut
				break
			}
		}

		chunks = append(chunks, string(runes[start:end]))
		start = end - overlap
	}

	return chunks
}

// ChunkFixed cuts text into consecutive pieces of exactly size runes (the
// last may be shorter). No overlap, no boundary search.
func ChunkFixed(text string, size int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
