package scraper

import (
	"iter"
	"slices"
	"sync"
)

// Dimensions holds candidate dimension rows discovered during transform,
// keyed by dimension name. Within one name the first candidate proposed for a
// code wins; later candidates with the same code are ignored.
type Dimensions struct {
	mu    sync.Mutex
	names []string
	rows  map[string][]Row
	codes map[string]map[string]struct{}
}

// NewDimensions returns an empty candidate set.
func NewDimensions() *Dimensions {
	return &Dimensions{
		rows:  make(map[string][]Row),
		codes: make(map[string]map[string]struct{}),
	}
}

// Add proposes a row for the named dimension. It reports whether the row was
// accepted (false when a candidate with the same code already exists).
func (d *Dimensions) Add(name string, row Row) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	codes, ok := d.codes[name]
	if !ok {
		codes = make(map[string]struct{})
		d.codes[name] = codes
		d.names = append(d.names, name)
	}
	code := row.Code()
	if _, dup := codes[code]; dup {
		return false
	}
	codes[code] = struct{}{}
	d.rows[name] = append(d.rows[name], row)
	return true
}

// Remove drops candidates of the named dimension whose code is in codes and
// returns how many were removed.
func (d *Dimensions) Remove(name string, codes map[string]struct{}) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows := d.rows[name]
	kept := rows[:0]
	removed := 0
	for _, row := range rows {
		if _, ok := codes[row.Code()]; ok {
			delete(d.codes[name], row.Code())
			removed++
			continue
		}
		kept = append(kept, row)
	}
	d.rows[name] = kept
	return removed
}

// Names returns dimension names in first-proposed order.
func (d *Dimensions) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.names)
}

// Rows returns a copy of the candidates for a dimension.
func (d *Dimensions) Rows(name string) []Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.rows[name])
}

// Len returns the total number of candidates across all dimensions.
func (d *Dimensions) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, rows := range d.rows {
		n += len(rows)
	}
	return n
}

// Output collects what a transform produces: fact rows (materialized or
// streamed) and dynamic dimension candidates. Safe for concurrent use.
type Output struct {
	mu      sync.Mutex
	facts   []Row
	streams []iter.Seq2[Row, error]
	dims    *Dimensions
}

// NewOutput returns an empty Output.
func NewOutput() *Output {
	return &Output{dims: NewDimensions()}
}

// AddFact appends one fact row.
func (o *Output) AddFact(row Row) {
	o.mu.Lock()
	o.facts = append(o.facts, row)
	o.mu.Unlock()
}

// AddFacts appends fact rows.
func (o *Output) AddFacts(rows []Row) {
	o.mu.Lock()
	o.facts = append(o.facts, rows...)
	o.mu.Unlock()
}

// Stream registers a lazy row sequence, consumed once at upload time. Use it
// for datasets too large to hold in memory.
func (o *Output) Stream(seq iter.Seq2[Row, error]) {
	o.mu.Lock()
	o.streams = append(o.streams, seq)
	o.mu.Unlock()
}

// AddDimension proposes a dynamic dimension row.
func (o *Output) AddDimension(name string, row Row) bool {
	return o.dims.Add(name, row)
}

// Dimensions returns the dynamic dimension candidates.
func (o *Output) Dimensions() *Dimensions {
	return o.dims
}

// FactCount returns the number of materialized facts. Streamed rows are not
// counted until they are consumed.
func (o *Output) FactCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.facts)
}

// Facts yields materialized facts first, then every registered stream in
// registration order.
func (o *Output) Facts() iter.Seq2[Row, error] {
	o.mu.Lock()
	facts := slices.Clone(o.facts)
	streams := slices.Clone(o.streams)
	o.mu.Unlock()

	return func(yield func(Row, error) bool) {
		for _, row := range facts {
			if !yield(row, nil) {
				return
			}
		}
		for _, seq := range streams {
			for row, err := range seq {
				if !yield(row, err) {
					return
				}
			}
		}
	}
}
