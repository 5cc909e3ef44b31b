// Package extract turns raw recognized receipt text into candidate fields.
//
// Every matcher is total: it either finds a value with a confidence or
// reports nothing. Extraction never fails; missing fields are judged by the
// rule engine.
package extract

import (
	"time"

	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
)

// Result is the extraction outcome.
type Result struct {
	Fields      entity.ExtractedFields
	Confidences entity.Confidences
}

// Extractor applies the field matchers. The zero value is not usable; call New.
type Extractor struct {
	loc *time.Location
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLocation interprets printed receipt dates in loc (default UTC).
func WithLocation(loc *time.Location) Option {
	return func(e *Extractor) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// New creates an extractor that reads printed dates in UTC by default.
func New(opts ...Option) *Extractor {
	e := &Extractor{loc: time.UTC}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract runs every matcher over rawText.
func (e *Extractor) Extract(rawText string) Result {
	return e.ExtractWithConfidence(rawText, nil)
}

// ExtractWithConfidence is Extract with the recognizer's own confidence (0..1)
// scaling every field confidence.
func (e *Extractor) ExtractWithConfidence(rawText string, ocrConfidence *float64) Result {
	lines := splitLines(rawText)
	res := Result{Confidences: entity.Confidences{}}
	for _, f := range entity.Fields {
		res.Confidences[f] = 0
	}

	if v, c, ok := matchTaxID(lines); ok {
		res.Fields.TaxID = v
		res.Confidences[entity.FieldTaxID] = c
	}
	if v, c, ok := matchInvoiceNumber(lines); ok {
		res.Fields.InvoiceNumber = v
		res.Confidences[entity.FieldInvoiceNumber] = c
	}
	if d, c, ok := matchDate(lines, e.loc); ok {
		t := d.at
		res.Fields.Date = &t
		res.Fields.DateHasTime = d.hasTime
		res.Confidences[entity.FieldDate] = c
	}
	if v, c, ok := matchTotal(lines); ok {
		amt := v
		res.Fields.TotalAmount = &amt
		res.Confidences[entity.FieldTotalAmount] = c
	}
	if v, c, ok := matchBranch(lines); ok {
		res.Fields.BranchText = v
		res.Confidences[entity.FieldBranchText] = c
	}

	if ocrConfidence != nil {
		scale := clamp(*ocrConfidence)
		for f, c := range res.Confidences {
			res.Confidences[f] = clamp(c * scale)
		}
	}
	return res
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
