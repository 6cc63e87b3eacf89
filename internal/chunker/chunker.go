// Package chunker partitions a cleaned HTML document into an ordered sequence
// of boundary-safe chunks.
//
// Splitting strategy:
//  1. Scan forward accumulating content until the target size is reached.
//  2. Search forward (never backward) for the earliest boundary at which
//     every element the chunk owns has been closed again. The cut may land
//     inside an ancestor opened before the chunk began, or inside a wrapper
//     opened at the chunk's leading edge before any content accumulated
//     (those are inherited context, recorded on the next chunk's open
//     stack), but never inside an element opened mid-content, and never
//     inside a tag's angle-bracket span.
//  3. Past a bounded look-ahead, fall back to a raw split at the nearest
//     token boundary and mark the chunk unsafe.
//
// Concatenating chunk contents in index order reproduces the input exactly.
package chunker

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/strategist/internal/dom"
)

// Options configures the splitting behaviour.
type Options struct {
	// TargetSize is the chunk size threshold in bytes of content. Default: 8000.
	TargetSize int
	// OverlapHint is the number of estimated tokens of trailing context
	// echoed to the next chunk. Default: 100.
	OverlapHint int
	// MaxLookAhead bounds the forward search for a safe cut, in bytes past
	// the target. Default: 2048.
	MaxLookAhead int
	// PreserveContext controls whether open ancestor stacks are recorded on
	// each chunk. The degraded context-free mode turns this off.
	PreserveContext bool
}

func (o *Options) defaults() {
	if o.TargetSize <= 0 {
		o.TargetSize = 8000
	}
	if o.OverlapHint <= 0 {
		o.OverlapHint = 100
	}
	if o.MaxLookAhead <= 0 {
		o.MaxLookAhead = 2048
	}
}

func (o Options) validate() error {
	if o.TargetSize < 100 {
		return fmt.Errorf("chunker: target size must be at least 100 bytes, got %d", o.TargetSize)
	}
	if o.OverlapHint*4 >= o.TargetSize/2 {
		return fmt.Errorf("chunker: overlap hint %d too large for target size %d", o.OverlapHint, o.TargetSize)
	}
	return nil
}

// OpenTag is one entry of a chunk's open ancestor stack.
type OpenTag struct {
	Name string // lowercase tag name
	Raw  string // verbatim opening tag, attributes included
}

// Chunk is one contiguous slice of the document.
type Chunk struct {
	Index         int
	Content       string
	StartOffset   int
	EndOffset     int
	OpenContext   []OpenTag // ancestors still open at chunk start
	ContextEcho   string    // bounded tail of the previous chunk, prompt context only
	EstimatedSize int       // rough token estimate of text content
	Unsafe        bool      // raw split, element integrity not guaranteed
}

type stackEntry struct {
	tag        OpenTag
	openOffset int
	// afterContent marks elements opened after the current chunk started
	// accumulating content. Only those are chunk-owned; elements opened at
	// the leading edge are inherited wrappers and may stay open across cuts.
	afterContent bool
}

// Split partitions src into chunks. The zero-length document yields no chunks.
func Split(src string, opts Options) ([]Chunk, error) {
	opts.defaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if src == "" {
		return nil, nil
	}

	events, err := dom.ParseStructure(src)
	if err != nil {
		return nil, fmt.Errorf("chunker: parse structure: %w", err)
	}

	var (
		chunks      []Chunk
		stack       []stackEntry
		chunkStart  int
		contentSeen bool
		// Context captured at the previous cut, owned by the chunk being built.
		pendingContext []OpenTag
		// First boundary past the target, kept as the raw-split fallback.
		fallbackCut   = -1
		fallbackStack []OpenTag
	)

	openedInChunk := func() int {
		n := 0
		for _, e := range stack {
			if e.openOffset >= chunkStart && e.afterContent {
				n++
			}
		}
		return n
	}

	snapshot := func() []OpenTag {
		out := make([]OpenTag, len(stack))
		for i, e := range stack {
			out[i] = e.tag
		}
		return out
	}

	emit := func(cut int, ctx []OpenTag, unsafe bool) {
		content := src[chunkStart:cut]
		c := Chunk{
			Index:         len(chunks),
			Content:       content,
			StartOffset:   chunkStart,
			EndOffset:     cut,
			EstimatedSize: estimateTokens(content),
			Unsafe:        unsafe,
		}
		if opts.PreserveContext {
			c.OpenContext = pendingContext
			if len(chunks) > 0 {
				c.ContextEcho = tailEcho(chunks[len(chunks)-1].Content, opts.OverlapHint*4)
			}
		}
		chunks = append(chunks, c)
		chunkStart = cut
		contentSeen = false
		pendingContext = ctx
		fallbackCut = -1
		fallbackStack = nil
	}

	for _, ev := range events {
		switch ev.Kind {
		case dom.EventOpen:
			stack = append(stack, stackEntry{
				tag:          OpenTag{Name: ev.Tag, Raw: ev.Raw},
				openOffset:   ev.Start,
				afterContent: contentSeen,
			})
		case dom.EventClose:
			// Pop to the matching open tag; tolerate stray closers.
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].tag.Name == ev.Tag {
					stack = stack[:i]
					break
				}
			}
			contentSeen = true
		case dom.EventSelfClose:
			contentSeen = true
		case dom.EventText:
			if strings.TrimSpace(ev.Raw) != "" {
				contentSeen = true
			}
		}

		pos := ev.End
		if pos-chunkStart < opts.TargetSize {
			continue
		}

		if openedInChunk() == 0 {
			if ev.Kind == dom.EventText {
				// A bare text run far past the target is split at raw
				// offsets; text is not markup, the split stays lossless.
				for pos-chunkStart > opts.TargetSize+opts.MaxLookAhead {
					emit(chunkStart+opts.TargetSize, snapshot(), false)
				}
			}
			// Earliest valid boundary at or past the target.
			emit(pos, snapshot(), false)
			continue
		}

		if fallbackCut < 0 {
			if ev.Kind == dom.EventText && ev.Start <= chunkStart+opts.TargetSize {
				// A long text run spans the target; a raw offset split inside
				// it is legal (text, not markup).
				fallbackCut = chunkStart + opts.TargetSize
			} else {
				fallbackCut = pos
			}
			fallbackStack = snapshot()
		}
		if pos-chunkStart > opts.TargetSize+opts.MaxLookAhead {
			// No safe cut within the look-ahead window: raw split at the
			// first boundary past the target, element integrity broken.
			emit(fallbackCut, fallbackStack, true)
		}
	}

	if chunkStart < len(src) {
		emit(len(src), nil, false)
	}
	return chunks, nil
}

// tailEcho returns the trailing maxBytes of content, snapped forward to the
// next tag start so the echo never begins mid-text or mid-tag.
func tailEcho(content string, maxBytes int) string {
	if len(content) <= maxBytes {
		return content
	}
	tail := content[len(content)-maxBytes:]
	if i := strings.IndexByte(tail, '<'); i >= 0 {
		return tail[i:]
	}
	return tail
}

// estimateTokens approximates the token count of the text content of an HTML
// fragment: bytes outside angle-bracket spans divided by four.
func estimateTokens(fragment string) int {
	textBytes := 0
	inTag := false
	for i := 0; i < len(fragment); i++ {
		switch fragment[i] {
		case '<':
			inTag = true
		case '>':
			inTag = false
		default:
			if !inTag {
				textBytes++
			}
		}
	}
	return textBytes / 4
}

// ContextHTML renders an open ancestor stack as nested opening tags, the form
// the analysis prompt embeds.
func ContextHTML(stack []OpenTag) string {
	var b strings.Builder
	for _, t := range stack {
		b.WriteString(t.Raw)
	}
	return b.String()
}
