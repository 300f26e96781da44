package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"oats/internal/utils/id"
)

const (
	// funnelMaxLines and funnelMaxChars gate the funnel. Output at exactly
	// these limits passes through verbatim; only exceeding them triggers it.
	funnelMaxLines = 50
	funnelMaxChars = 2000

	funnelHeadLines = 10
	funnelTailLines = 5

	funnelMarker = "LARGE OUTPUT DETECTED"

	// digestMaxChars caps the digest itself. A digest over this limit is
	// hard-truncated with a trailing marker.
	digestMaxChars = 4000

	digestTruncationSuffix = "\n... [digest truncated]"
)

// Observation is tool output after funnel shaping, ready for the oracle.
// TotalMatches and FilesWithMatches are only populated for search-like tools
// whose large output could be parsed; HasMatchCounts reports whether they are
// meaningful.
type Observation struct {
	Content          string
	Truncated        bool
	ArtifactPath     string
	TotalLines       int
	TotalBytes       int
	TotalMatches     int
	FilesWithMatches int
	HasMatchCounts   bool
}

// Funnel shapes raw tool output: small output passes through, large output is
// saved whole to an artifact and replaced with a digest and preview.
type Funnel struct {
	artifactDir string
}

// NewFunnel creates a funnel writing artifacts under artifactDir.
func NewFunnel(artifactDir string) *Funnel {
	return &Funnel{artifactDir: artifactDir}
}

// Shape applies the three funnel layers to raw output.
func (f *Funnel) Shape(toolName, raw string) Observation {
	lines := strings.Split(raw, "\n")
	totalLines := len(lines)
	totalBytes := len(raw)

	if totalLines <= funnelMaxLines && totalBytes <= funnelMaxChars {
		return Observation{
			Content:    raw,
			TotalLines: totalLines,
			TotalBytes: totalBytes,
		}
	}

	artifactPath, saveErr := f.save(toolName, raw)

	var stats *matchStats
	if isSearchTool(toolName) {
		stats = parseMatchStats(raw)
	}
	digest := buildDigest(lines, totalLines, totalBytes, stats, artifactPath, saveErr)

	if len(digest) > digestMaxChars {
		digest = digest[:digestMaxChars-len(digestTruncationSuffix)] + digestTruncationSuffix
	}

	obs := Observation{
		Content:      digest,
		Truncated:    true,
		ArtifactPath: artifactPath,
		TotalLines:   totalLines,
		TotalBytes:   totalBytes,
	}
	if stats != nil {
		obs.TotalMatches = stats.matches
		obs.FilesWithMatches = stats.files
		obs.HasMatchCounts = true
	}
	return obs
}

// matchStats is the extra digest metadata for search-like tools.
type matchStats struct {
	matches int
	files   int
}

func isSearchTool(name string) bool {
	base := strings.ToLower(name)
	if idx := strings.IndexByte(base, ':'); idx >= 0 {
		base = base[:idx]
	}
	for _, marker := range []string{"search", "grep", "find"} {
		if strings.Contains(base, marker) {
			return true
		}
	}
	return false
}

// parseMatchStats extracts match counts from structured search output on a
// best-effort basis. Output that is not JSON, or JSON in an unexpected shape,
// yields nil.
func parseMatchStats(raw string) *matchStats {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(trimmed, "{") {
		var envelope struct {
			TotalMatches     *int `json:"total_matches"`
			FilesWithMatches *int `json:"files_with_matches"`
		}
		if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
			return nil
		}
		if envelope.TotalMatches == nil {
			return nil
		}
		stats := &matchStats{matches: *envelope.TotalMatches}
		if envelope.FilesWithMatches != nil {
			stats.files = *envelope.FilesWithMatches
		}
		return stats
	}

	if strings.HasPrefix(trimmed, "[") {
		var results []map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &results); err != nil {
			return nil
		}
		files := make(map[string]struct{})
		for _, result := range results {
			for _, key := range []string{"file", "file_path", "path"} {
				if rawFile, ok := result[key]; ok {
					var file string
					if json.Unmarshal(rawFile, &file) == nil && file != "" {
						files[file] = struct{}{}
					}
					break
				}
			}
		}
		return &matchStats{matches: len(results), files: len(files)}
	}

	return nil
}

func (f *Funnel) save(toolName, raw string) (string, error) {
	if f.artifactDir == "" {
		return "", fmt.Errorf("no artifact directory configured")
	}
	if err := os.MkdirAll(f.artifactDir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.txt", sanitizeToolName(toolName), id.NewArtifactSuffix())
	path := filepath.Join(f.artifactDir, name)
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

func buildDigest(lines []string, totalLines, totalBytes int, stats *matchStats, artifactPath string, saveErr error) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s: %d lines, %d bytes total.\n", funnelMarker, totalLines, totalBytes)
	if stats != nil {
		fmt.Fprintf(&b, "Matches: %d\nFiles: %d\n", stats.matches, stats.files)
	}
	if saveErr == nil && artifactPath != "" {
		fmt.Fprintf(&b, "Full output saved to: %s\n", artifactPath)
	} else if saveErr != nil {
		fmt.Fprintf(&b, "Full output could not be saved: %v\n", saveErr)
	}
	b.WriteString("Preview:\n")

	head := funnelHeadLines
	if head > totalLines {
		head = totalLines
	}
	for _, line := range lines[:head] {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	omitted := totalLines - funnelHeadLines - funnelTailLines
	if omitted > 0 {
		fmt.Fprintf(&b, "(%d lines truncated)\n", omitted)
	}

	if totalLines > funnelHeadLines {
		tailStart := totalLines - funnelTailLines
		if tailStart < head {
			tailStart = head
		}
		for _, line := range lines[tailStart:] {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func sanitizeToolName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
