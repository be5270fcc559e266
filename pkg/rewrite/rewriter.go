// Package rewrite implements a streaming HTML rewriter.
//
// The input is tokenized incrementally and copied to the output as raw
// bytes. Each element matching the selector is captured (start tag through
// matching end tag) and handed to an ElementHandler on its own goroutine.
// Output is an ordered queue of segments drained by a single writer, so the
// document order is preserved no matter in which order handlers finish.
// Bytes ahead of the first unfinished element are written immediately;
// bytes behind it wait in the bounded queue.
package rewrite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

var (
	rewriteElementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewrite_elements_total",
		Help: "Total matched elements by outcome",
	}, []string{"outcome"}) // unchanged, modified, removed

	rewriteDocumentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewrite_documents_total",
		Help: "Total documents rewritten by result",
	}, []string{"result"}) // ok, error

	rewriteDocumentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rewrite_document_duration_seconds",
		Help:    "Time to stream one document through the rewriter",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

// ElementHandler is invoked once per matched element. Handlers for different
// elements run concurrently; one handler owns its element exclusively.
type ElementHandler interface {
	Element(ctx context.Context, el *Element)
}

// HandlerFunc adapts a function to ElementHandler.
type HandlerFunc func(ctx context.Context, el *Element)

// Element calls f(ctx, el).
func (f HandlerFunc) Element(ctx context.Context, el *Element) {
	f(ctx, el)
}

// Config holds rewriter limits.
type Config struct {
	// MaxConcurrent bounds in-flight handlers per document.
	MaxConcurrent int

	// MaxPending bounds queued output segments; a full queue pauses tokenizing.
	MaxPending int

	// FlushSize is the pass-through chunk size emitted as one segment.
	FlushSize int
}

// DefaultConfig returns the default rewriter limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 8,
		MaxPending:    256,
		FlushSize:     4096,
	}
}

// Rewriter applies an ElementHandler to every element matching a Selector.
type Rewriter struct {
	selector Selector
	handler  ElementHandler
	config   Config
	logger   zerolog.Logger
}

// New creates a Rewriter.
func New(selector Selector, handler ElementHandler, cfg Config, logger zerolog.Logger) *Rewriter {
	if handler == nil {
		panic("rewrite: handler cannot be nil")
	}
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = def.MaxPending
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = def.FlushSize
	}
	return &Rewriter{
		selector: selector,
		handler:  handler,
		config:   cfg,
		logger:   logger,
	}
}

// Selector returns the rewriter's selector.
func (rw *Rewriter) Selector() Selector {
	return rw.selector
}

// segment is a run of output bytes. Segments with a ready channel belong
// to a matched element and may only be written once ready is closed.
type segment struct {
	data  []byte
	ready chan struct{}
}

// Transform streams src to dst, applying the handler to matched elements.
// It returns when the whole document has been written, or on the first
// read, write or context error. Reads from src are not interrupted by ctx,
// so src must unblock on its own when ctx is done (an HTTP response body
// tied to the same context does).
func (rw *Rewriter) Transform(ctx context.Context, dst io.Writer, src io.Reader) error {
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan *segment, rw.config.MaxPending)

	var handlers errgroup.Group
	handlers.SetLimit(rw.config.MaxConcurrent)

	g.Go(func() error {
		return writeSegments(gctx, dst, queue)
	})
	g.Go(func() error {
		defer close(queue)
		return rw.tokenize(gctx, src, queue, &handlers)
	})

	err := g.Wait()
	handlers.Wait()

	rewriteDocumentDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		rewriteDocumentsTotal.WithLabelValues("error").Inc()
		return err
	}
	rewriteDocumentsTotal.WithLabelValues("ok").Inc()
	return nil
}

// tokenize splits src into segments and dispatches matched elements.
func (rw *Rewriter) tokenize(ctx context.Context, src io.Reader, queue chan<- *segment, handlers *errgroup.Group) error {
	z := html.NewTokenizer(src)

	var pending bytes.Buffer
	send := func(seg *segment) error {
		select {
		case queue <- seg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	flush := func() error {
		if pending.Len() == 0 {
			return nil
		}
		data := bytes.Clone(pending.Bytes())
		pending.Reset()
		return send(&segment{data: data})
	}
	dispatch := func(el *Element) error {
		if err := flush(); err != nil {
			return err
		}
		seg := &segment{ready: make(chan struct{})}
		handlers.Go(func() error {
			rw.handle(ctx, el, seg)
			return nil
		})
		return send(seg)
	}

	var current *Element
	depth := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		tt := z.Next()
		if tt == html.ErrorToken {
			// Input that ends mid-tag leaves the partial tag in Raw.
			if current != nil {
				current.content = append(current.content, z.Raw()...)
			} else {
				pending.Write(z.Raw())
			}
			if current != nil {
				// Unterminated element: hand over what was captured.
				if err := dispatch(current); err != nil {
					return err
				}
			}
			if err := flush(); err != nil {
				return err
			}
			if errors.Is(z.Err(), io.EOF) {
				return nil
			}
			return fmt.Errorf("tokenize html: %w", z.Err())
		}

		// Raw must be copied before TagName/TagAttr, which lower-case and
		// unescape the tokenizer's buffer in place.
		if current != nil {
			current.content = append(current.content, z.Raw()...)
			if tt == html.StartTagToken || tt == html.EndTagToken {
				name, _ := z.TagName()
				if string(name) == current.tag {
					if tt == html.StartTagToken {
						depth++
					} else if depth > 0 {
						depth--
					} else {
						el := current
						current = nil
						if err := dispatch(el); err != nil {
							return err
						}
					}
				}
			}
			continue
		}

		mark := pending.Len()
		pending.Write(z.Raw())

		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			name, hasAttr := z.TagName()
			if hasAttr && string(name) == rw.selector.Tag {
				attrs := readAttrs(z)
				if rw.selector.Matches(string(name), attrs) {
					el := &Element{
						tag:         string(name),
						attrs:       attrs,
						selfClosing: tt == html.SelfClosingTagToken,
						startRaw:    bytes.Clone(pending.Bytes()[mark:]),
					}
					pending.Truncate(mark)

					if el.selfClosing || voidElements[el.tag] {
						if err := dispatch(el); err != nil {
							return err
						}
					} else {
						current = el
						depth = 0
					}
					continue
				}
			}
		}

		if pending.Len() >= rw.config.FlushSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// handle runs the handler for one element and publishes its rendering.
// A panicking handler leaves the element as it was read.
func (rw *Rewriter) handle(ctx context.Context, el *Element, seg *segment) {
	defer close(seg.ready)
	defer func() {
		if r := recover(); r != nil {
			rw.logger.Error().Interface("panic", r).Str("tag", el.tag).Msg("Element handler panicked, leaving element unchanged")
			el.reset()
		}
		seg.data = el.render()
		rewriteElementsTotal.WithLabelValues(el.outcome()).Inc()
	}()

	rw.handler.Element(ctx, el)
}

// writeSegments drains queue in order, waiting for element segments.
func writeSegments(ctx context.Context, dst io.Writer, queue <-chan *segment) error {
	flusher, _ := dst.(http.Flusher)

	for seg := range queue {
		if seg.ready != nil {
			select {
			case <-seg.ready:
			default:
				// Everything before this element is written; send it on
				// while the handler runs.
				if flusher != nil {
					flusher.Flush()
				}
				select {
				case <-seg.ready:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if len(seg.data) > 0 {
			if _, err := dst.Write(seg.data); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
		// Caught up with the tokenizer: push what we have to the client.
		if flusher != nil && len(queue) == 0 {
			flusher.Flush()
		}
	}
	return nil
}

func readAttrs(z *html.Tokenizer) []html.Attribute {
	var attrs []html.Attribute
	for {
		key, val, more := z.TagAttr()
		attrs = append(attrs, html.Attribute{Key: string(key), Val: string(val)})
		if !more {
			return attrs
		}
	}
}

// voidElements never have content or an end tag.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}
