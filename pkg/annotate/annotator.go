// Package annotate decorates listing links with price and stock.
package annotate

import (
	"context"
	"fmt"

	"github.com/Sternrassler/listing-price-proxy/pkg/listing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var annotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "listing_annotations_total",
	Help: "Total matched links by annotation outcome",
}, []string{"outcome"}) // skipped, in_stock, sold_out, removed

// Element is the part of a matched element the annotator needs.
type Element interface {
	Attribute(name string) (string, bool)
	SetAttribute(name, value string)
	Remove()
}

// Lookuper resolves a listing ID to a record. It must not fail.
type Lookuper interface {
	Lookup(ctx context.Context, id listing.ID) listing.Record
}

// Labels holds the attribute names and texts written onto links.
type Labels struct {
	LinkAttr  string // attribute holding the listing URL
	TitleAttr string
	AltAttr   string

	// InStockFormat receives the price and the quantity.
	InStockFormat string
	// SoldOutFormat receives the price.
	SoldOutFormat string

	InStockAlt string
	SoldOutAlt string
}

// DefaultLabels returns the stock English labels.
func DefaultLabels() Labels {
	return Labels{
		LinkAttr:      "href",
		TitleAttr:     "title",
		AltAttr:       "alt",
		InStockFormat: "From %s. Only %d left.",
		SoldOutFormat: "From %s. Sold Out.",
		InStockAlt:    "Buy this on Etsy",
		SoldOutAlt:    "View this on Etsy",
	}
}

// Annotator applies listing records to matched elements.
type Annotator struct {
	lookup Lookuper
	labels Labels
	logger zerolog.Logger
}

// New creates an Annotator. Empty label fields take their defaults.
func New(lookup Lookuper, labels Labels, logger zerolog.Logger) *Annotator {
	if lookup == nil {
		panic("annotate: lookup cannot be nil")
	}
	return &Annotator{
		lookup: lookup,
		labels: labels.withDefaults(),
		logger: logger,
	}
}

// Annotate sets the title and alt attributes of el from its listing's
// record, or removes el if the listing cannot be priced. Elements without
// a listing link are left alone.
func (a *Annotator) Annotate(ctx context.Context, el Element) {
	href, ok := el.Attribute(a.labels.LinkAttr)
	if !ok {
		annotationsTotal.WithLabelValues("skipped").Inc()
		return
	}
	id, ok := listing.ExtractID(href)
	if !ok {
		annotationsTotal.WithLabelValues("skipped").Inc()
		return
	}

	record := a.lookup.Lookup(ctx, id)
	if !record.Found {
		a.logger.Debug().Str("listing_id", string(id)).Msg("Removing link to unavailable listing")
		annotationsTotal.WithLabelValues("removed").Inc()
		el.Remove()
		return
	}

	title, alt := a.text(record)
	el.SetAttribute(a.labels.TitleAttr, title)
	el.SetAttribute(a.labels.AltAttr, alt)
}

func (a *Annotator) text(r listing.Record) (title, alt string) {
	if r.Available() {
		annotationsTotal.WithLabelValues("in_stock").Inc()
		return fmt.Sprintf(a.labels.InStockFormat, r.DisplayPrice, r.Quantity), a.labels.InStockAlt
	}
	annotationsTotal.WithLabelValues("sold_out").Inc()
	return fmt.Sprintf(a.labels.SoldOutFormat, r.DisplayPrice), a.labels.SoldOutAlt
}

func (l Labels) withDefaults() Labels {
	def := DefaultLabels()
	fill := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	fill(&l.LinkAttr, def.LinkAttr)
	fill(&l.TitleAttr, def.TitleAttr)
	fill(&l.AltAttr, def.AltAttr)
	fill(&l.InStockFormat, def.InStockFormat)
	fill(&l.SoldOutFormat, def.SoldOutFormat)
	fill(&l.InStockAlt, def.InStockAlt)
	fill(&l.SoldOutAlt, def.SoldOutAlt)
	return l
}
