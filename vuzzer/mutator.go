// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vuzzer

import "math/rand"

// Mutator applies the byte-level evolutionary mutations to one input
// buffer. It never mutates the buffer it was created from.
type Mutator struct {
	buf []byte
	r   *rand.Rand
	s   *State
}

var interesting8 = []byte{0, 1, 16, 32, 64, 100, 127, 128, 255}

const maxGrow = 1 << 12

// NewMutator copies buf into a fresh mutator.
func NewMutator(s *State, r *rand.Rand, buf []byte) *Mutator {
	return &Mutator{buf: append([]byte(nil), buf...), r: r, s: s}
}

// Buf returns the current buffer.
func (m *Mutator) Buf() []byte { return m.buf }

// TotallyRandom rewrites every byte with random values. Used by the dry run
// to provoke the error-handling paths.
func (m *Mutator) TotallyRandom() {
	for i := range m.buf {
		m.buf[i] = byte(m.r.Intn(256))
	}
}

// MutateRandom applies a small stack of random edits: byte flips, erases,
// inserts, truncation, interesting-value stores, and dictionary token
// insertion.
func (m *Mutator) MutateRandom() {
	for n := m.r.Intn(5) + 1; n > 0; n-- {
		switch m.r.Intn(6) {
		case 0: // remove a byte
			if len(m.buf) > 1 {
				pos := m.r.Intn(len(m.buf))
				copy(m.buf[pos:], m.buf[pos+1:])
				m.buf = m.buf[:len(m.buf)-1]
			}
		case 1: // insert a random byte
			if len(m.buf) < maxGrow {
				pos := m.r.Intn(len(m.buf) + 1)
				m.buf = append(m.buf, 0)
				copy(m.buf[pos+1:], m.buf[pos:])
				m.buf[pos] = byte(m.r.Intn(256))
			}
		case 2: // flip a bit
			if len(m.buf) > 0 {
				pos := m.r.Intn(len(m.buf))
				m.buf[pos] ^= 1 << uint(m.r.Intn(8))
			}
		case 3: // truncate a random chunk
			if len(m.buf) > 32 {
				pos0 := m.r.Intn(len(m.buf) - 1)
				pos1 := pos0 + m.r.Intn(len(m.buf)-pos0)
				copy(m.buf[pos0:], m.buf[pos1:])
				m.buf = m.buf[:len(m.buf)-(pos1-pos0)]
			}
		case 4: // store an interesting value
			if len(m.buf) > 0 {
				pos := m.r.Intn(len(m.buf))
				m.buf[pos] = interesting8[m.r.Intn(len(interesting8))]
			}
		case 5: // splice in a dictionary token
			m.insertDictToken()
		}
	}
}

func (m *Mutator) insertDictToken() {
	d := m.s.AllDicts[m.r.Intn(len(m.s.AllDicts))]
	if len(d) == 0 {
		return
	}
	tok := d[m.r.Intn(len(d))]
	if len(m.buf)+len(tok) > maxGrow {
		return
	}
	pos := m.r.Intn(len(m.buf) + 1)
	out := make([]byte, 0, len(m.buf)+len(tok))
	out = append(out, m.buf[:pos]...)
	out = append(out, tok...)
	out = append(out, m.buf[pos:]...)
	m.buf = out
}

// TaintBasedChange steers tainted offsets towards the values the PUT was
// observed comparing them against.
func (m *Mutator) TaintBasedChange(taint map[int][]byte) {
	if len(taint) == 0 {
		return
	}
	for off, values := range taint {
		if off >= len(m.buf) || len(values) == 0 {
			continue
		}
		// Leave some tainted offsets untouched so the population keeps
		// exploring near-miss values.
		if m.r.Intn(2) == 0 {
			continue
		}
		m.buf[off] = values[m.r.Intn(len(values))]
	}
}

// CrossOver splits both parents at a common random cut point and swaps the
// tails, yielding two children.
func (m *Mutator) CrossOver(other []byte) ([]byte, []byte) {
	a, b := m.buf, other
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	if max < 2 {
		return append([]byte(nil), a...), append([]byte(nil), b...)
	}
	cut := 1 + m.r.Intn(max-1)

	child1 := make([]byte, 0, cut+len(b)-cut)
	child1 = append(child1, a[:cut]...)
	child1 = append(child1, b[cut:]...)

	child2 := make([]byte, 0, cut+len(a)-cut)
	child2 = append(child2, b[:cut]...)
	child2 = append(child2, a[cut:]...)

	return child1, child2
}
