// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-frostsigner.
//
// go-frostsigner is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package policy

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/gowebpki/jcs"
)

// Conditions restrict where a policy applies. A nil Conditions, or one with
// no kinds, matches every request.
type Conditions struct {
	Kinds []int `json:"kinds,omitempty"`
}

// MatchesAll reports whether c places no restriction.
func (c *Conditions) MatchesAll() bool {
	return c == nil || len(c.Kinds) == 0
}

// Matches reports whether a request for an event of the given kind falls
// under c. A nil kind (no event) always matches.
func (c *Conditions) Matches(kind *int) bool {
	if c.MatchesAll() || kind == nil {
		return true
	}
	return slices.Contains(c.Kinds, *kind)
}

// Normalize returns a copy with kinds sorted and de-duplicated. Match-all
// conditions normalize to nil.
func (c *Conditions) Normalize() *Conditions {
	if c.MatchesAll() {
		return nil
	}
	kinds := slices.Clone(c.Kinds)
	slices.Sort(kinds)
	return &Conditions{Kinds: slices.Compact(kinds)}
}

// Merge returns the union of a and b. Either side matching everything makes
// the result match everything.
func Merge(a, b *Conditions) *Conditions {
	if a.MatchesAll() || b.MatchesAll() {
		return nil
	}
	union := make([]int, 0, len(a.Kinds)+len(b.Kinds))
	union = append(union, a.Kinds...)
	union = append(union, b.Kinds...)
	return (&Conditions{Kinds: union}).Normalize()
}

// Canonical returns the RFC 8785 serialization of the normalized conditions.
// Match-all conditions canonicalize to "{}".
func Canonical(c *Conditions) ([]byte, error) {
	n := c.Normalize()
	if n == nil {
		n = &Conditions{}
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// Equal reports whether a and b describe the same set of requests.
func Equal(a, b *Conditions) bool {
	ca, errA := Canonical(a)
	cb, errB := Canonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}
