// Package normalizer cleans extracted article text by feeding it to the
// text-cleaning collaborator in bounded-size blocks and reassembling the
// output in order.
package normalizer

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

// DefaultBlockSize bounds block length in characters.
const DefaultBlockSize = 3000

// sentenceEnders mark preferred split points when they precede whitespace.
const sentenceEnders = ".!?"

// Config controls Normalizer behavior.
type Config struct {
	// BlockSize is the maximum block length in characters (runes).
	BlockSize int
	// MinCleanedWords is the minimum word count a cleaned block must have
	// to be accepted; shorter cleaner output is treated like a cleaner
	// failure and the original block is kept.
	MinCleanedWords int
	// BlockTimeout bounds each cleaner call.
	BlockTimeout time.Duration
}

// Normalizer invokes the cleaning collaborator per block and degrades
// gracefully on per-block failures.
type Normalizer struct {
	cleaner ingest.TextCleaner
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Normalizer.
func New(cleaner ingest.TextCleaner, cfg Config, logger *zap.Logger) *Normalizer {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		cleaner: cleaner,
		cfg:     cfg,
		logger:  logger,
	}
}

// Split partitions text into ordered non-overlapping blocks of at most
// blockSize characters. Splits prefer a sentence boundary, then any
// whitespace, within a bounded lookback window before the size limit; with
// no boundary in the window the cut lands at exactly blockSize. The
// boundaries depend only on (text, blockSize), never on map iteration or
// timing, so repeated calls partition identically.
func Split(text string, blockSize int) []string {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	window := lookbackWindow(blockSize)

	var blocks []string
	start := 0
	for start < len(runes) {
		remaining := len(runes) - start
		if remaining <= blockSize {
			blocks = append(blocks, string(runes[start:]))
			break
		}

		limit := start + blockSize
		cut, skip := findBoundary(runes, start, limit, window)
		blocks = append(blocks, string(runes[start:cut]))
		start = cut + skip
	}
	return blocks
}

// lookbackWindow returns how far before the size limit a boundary may be.
func lookbackWindow(blockSize int) int {
	window := blockSize / 5
	if window > 120 {
		window = 120
	}
	if window < 1 {
		window = 1
	}
	return window
}

// findBoundary picks the split position for a block starting at start whose
// hard limit is limit. It returns the cut index and how many runes to skip
// (1 when the cut lands on a whitespace separator, 0 for a hard cut).
func findBoundary(runes []rune, start, limit, window int) (cut, skip int) {
	earliest := limit - window
	if earliest <= start {
		earliest = start + 1
	}

	sentence := -1
	whitespace := -1
	for i := limit; i >= earliest; i-- {
		if !isSpace(runes[i]) {
			continue
		}
		if whitespace < 0 {
			whitespace = i
		}
		if i > start && strings.ContainsRune(sentenceEnders, runes[i-1]) {
			sentence = i
			break
		}
	}

	switch {
	case sentence >= 0:
		return sentence, 1
	case whitespace >= 0:
		return whitespace, 1
	default:
		return limit, 0
	}
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	default:
		return false
	}
}

// Normalize cleans text block by block and reassembles the result with a
// single space between blocks. A block whose cleaner call fails, times out,
// or returns degenerate output keeps its original text, so the document as
// a whole never loses content. The only hard failure is cancellation of the
// caller's context.
func (n *Normalizer) Normalize(ctx context.Context, text string) (string, error) {
	blocks := Split(text, n.cfg.BlockSize)
	if len(blocks) == 0 {
		return "", nil
	}

	cleaned := make([]string, 0, len(blocks))
	substituted := 0
	for i, block := range blocks {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		out, err := n.cleanBlock(ctx, block)
		if err != nil || wordCount(out) < n.cfg.MinCleanedWords {
			if err != nil {
				n.logger.Warn("block cleaning failed, keeping original text",
					zap.Int("block", i),
					zap.Int("total_blocks", len(blocks)),
					zap.Error(err),
				)
			}
			out = block
			substituted++
		}
		cleaned = append(cleaned, out)
	}

	if substituted > 0 {
		n.logger.Info("normalization degraded",
			zap.Int("blocks", len(blocks)),
			zap.Int("substituted", substituted),
		)
	}
	return strings.Join(cleaned, " "), nil
}

func (n *Normalizer) cleanBlock(ctx context.Context, block string) (string, error) {
	blockCtx, cancel := context.WithTimeout(ctx, n.cfg.BlockTimeout)
	defer cancel()

	out, err := n.cleaner.Clean(blockCtx, block)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
