// Package wrapindex implements a fixed-width monotonic counter whose arithmetic
// wraps modulo 2^64.
//
// Historical page and message counts grow without bound over the lifetime of a
// channel. Instead of widening the counter, every position is expressed as a
// wrapping index and the live window is kept far smaller than the index space.
// Under that contract the only meaningful comparisons are equality and forward
// distance; Index hides its raw value so code cannot fall back to magnitude
// comparisons with < or >.
package wrapindex

import "fmt"

// Domain is implemented by the marker types that keep index spaces apart.
type Domain interface {
	domainName() string
}

// PageDomain tags indices that address ring-buffer pages.
type PageDomain struct{}

func (PageDomain) domainName() string { return "page" }

// MessageDomain tags indices that address messages in the message window.
type MessageDomain struct{}

func (MessageDomain) domainName() string { return "msg" }

// Index is a wrapping counter in domain D. The zero value is index 0.
// Indices of different domains are different types and cannot be mixed.
type Index[D Domain] struct {
	v uint64
}

// PageIndex addresses a page of a channel's ring buffer.
type PageIndex = Index[PageDomain]

// MessageIndex addresses a message inside a channel's message window.
type MessageIndex = Index[MessageDomain]

// New returns the index with raw value v. Used by codecs and tests.
func New[D Domain](v uint64) Index[D] { return Index[D]{v: v} }

// Value returns the raw counter value. Used by codecs only.
func (i Index[D]) Value() uint64 { return i.v }

// Inc returns i+1, wrapping at the top of the space.
func (i Index[D]) Inc() Index[D] { return Index[D]{v: i.v + 1} }

// Dec returns i-1, wrapping at zero.
func (i Index[D]) Dec() Index[D] { return Index[D]{v: i.v - 1} }

// Add returns i+n modulo 2^64.
func (i Index[D]) Add(n uint64) Index[D] { return Index[D]{v: i.v + n} }

// Sub returns i-n modulo 2^64.
func (i Index[D]) Sub(n uint64) Index[D] { return Index[D]{v: i.v - n} }

// Distance returns the number of increments needed to go from a to b.
func Distance[D Domain](a, b Index[D]) uint64 { return b.v - a.v }

// String implements fmt.Stringer, e.g. "page#42".
func (i Index[D]) String() string {
	var d D
	return fmt.Sprintf("%s#%d", d.domainName(), i.v)
}
