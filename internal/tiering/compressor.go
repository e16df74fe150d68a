package tiering

import (
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/icco/context-optimizer/internal/config"
	"github.com/icco/context-optimizer/internal/entrystore"
	"github.com/icco/context-optimizer/internal/entrytype"
	"github.com/icco/context-optimizer/internal/tokencount"
)

// embeddingHandleTokens is the fixed, small footprint an embedding-strategy
// surrogate costs, representing a vector-store handle rather than text.
const embeddingHandleTokens = 10

// embeddingReferenceTokens is the additional cost a hybrid summary pays for
// carrying an embedding reference marker alongside its text.
const embeddingReferenceTokens = 5

var importantKeywords = []string{
	"must", "should", "important", "error", "fix", "implement", "create", "update", "delete",
}

// Compress reduces content to a Compressed surrogate sized at
// ceil(originalTokens*ratio). It never increases effective_tokens: if the
// computed surrogate would be as large as or larger than the original, it
// returns (nil, false) and the caller leaves the entry uncompressed for this
// step.
func Compress(strategy config.CompressionStrategy, content string, kind entrytype.Type, originalTokens int, ratio float64, est tokencount.Estimator, nowMS int64) (*entrystore.Compressed, bool) {
	if originalTokens <= 0 {
		return nil, false
	}
	target := int(math.Ceil(float64(originalTokens) * ratio))
	if target < 1 {
		target = 1
	}

	var method entrystore.CompressionMethod
	var summary string
	var compressedTokens int

	switch strategy {
	case config.CompressionEmbedding:
		method = entrystore.MethodEmbedding
		summary = ""
		compressedTokens = embeddingHandleTokens
	case config.CompressionHybrid:
		method = entrystore.MethodHybrid
		summaryTarget := int(math.Ceil(float64(target) * 0.70))
		summary = extractiveSummary(content, kind, summaryTarget, est)
		compressedTokens = est.Estimate(summary, kind) + embeddingReferenceTokens
	default:
		method = entrystore.MethodSummary
		summary = extractiveSummary(content, kind, target, est)
		compressedTokens = est.Estimate(summary, kind)
	}

	if compressedTokens >= originalTokens {
		return nil, false
	}

	return &entrystore.Compressed{
		Method:           method,
		Summary:          summary,
		CompressedTokens: compressedTokens,
		Ratio:            float64(compressedTokens) / float64(originalTokens),
		OriginalTokens:   originalTokens,
		CompressedAtMS:   nowMS,
	}, true
}

// extractiveSummary dispatches to a type-aware extractor. This is the
// tagged-variant dispatch called for in place of a compressor class
// hierarchy: one switch, free functions per entry kind.
func extractiveSummary(content string, kind entrytype.Type, targetTokens int, est tokencount.Estimator) string {
	targetChars := int(float64(targetTokens) * tokencount.CharsPerToken(kind))
	if targetChars < 1 {
		targetChars = 1
	}

	switch kind {
	case entrytype.FileRead, entrytype.FileWrite:
		return summarizeCode(content, targetChars)
	case entrytype.ToolResult, entrytype.BashOutput:
		return summarizeStructured(content, targetChars)
	case entrytype.UserMessage, entrytype.AssistantMessage:
		return summarizeProse(content, targetChars)
	default:
		return headTruncate(content, targetChars)
	}
}

var declarationPrefixes = []string{"import", "export", "function", "class", "interface", "type"}

func summarizeCode(content string, targetChars int) string {
	lines := strings.Split(content, "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, p := range declarationPrefixes {
			if strings.HasPrefix(trimmed, p) {
				kept = append(kept, line)
				break
			}
		}
	}
	joined := strings.Join(kept, "\n")
	if joined == "" {
		return headTruncate(content, targetChars)
	}
	return truncate(joined, targetChars)
}

func summarizeStructured(content string, targetChars int) string {
	if !gjson.Valid(content) {
		return headAndTail(content, targetChars)
	}
	parsed := gjson.Parse(content)
	if !parsed.IsObject() {
		return headAndTail(content, targetChars)
	}

	perFieldBudget := targetChars
	var keys []string
	parsed.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	if n := len(keys); n > 0 {
		perFieldBudget = targetChars / n
		if perFieldBudget < 8 {
			perFieldBudget = 8
		}
	}

	var b strings.Builder
	parsed.ForEach(func(key, value gjson.Result) bool {
		b.WriteString(key.String())
		b.WriteString("=")
		b.WriteString(truncate(value.String(), perFieldBudget))
		b.WriteString(" ")
		return b.Len() < targetChars
	})
	out := strings.TrimSpace(b.String())
	if out == "" {
		return headAndTail(content, targetChars)
	}
	return truncate(out, targetChars)
}

func summarizeProse(content string, targetChars int) string {
	sentences := splitSentences(content)
	var kept []string
	for _, s := range sentences {
		lower := strings.ToLower(s)
		for _, kw := range importantKeywords {
			if strings.Contains(lower, kw) {
				kept = append(kept, strings.TrimSpace(s))
				break
			}
		}
	}
	if len(kept) == 0 {
		return headTruncate(content, targetChars)
	}
	joined := strings.Join(kept, ". ")
	if len(joined) < targetChars/2 {
		joined = headTruncate(content, targetChars/2) + " " + joined
	}
	return truncate(joined, targetChars)
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}

func headTruncate(content string, targetChars int) string {
	return truncate(content, targetChars)
}

func headAndTail(content string, targetChars int) string {
	if len(content) <= targetChars {
		return content
	}
	half := targetChars / 2
	return content[:half] + "..." + content[len(content)-half:]
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
