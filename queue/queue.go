// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package queue is the coverage-sensitive corpus store of the grammar
// engine. It keeps an inverted index from coverage bit to the inputs that
// trigger it and decides which inputs to keep and which to retire.
package queue

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/bradleyjkemp/grammar-fuzz/feedback"
	"github.com/bradleyjkemp/grammar-fuzz/fuzzerr"
	"github.com/bradleyjkemp/grammar-fuzz/grammar"
)

// Item is one corpus entry. FreshBits is the subset of AllBits that was
// newly observed when the item entered the queue.
type Item struct {
	ID         uint64
	Tree       *grammar.Tree
	FreshBits  map[int]struct{}
	AllBits    []byte
	ExitReason feedback.ExitReason
	ExecTime   time.Duration
}

// Queue owns the pending and processed corpus entries and the inverted
// index. It is not safe for concurrent use; the core runs single-threaded.
type Queue struct {
	workDir     string
	currentID   uint64
	inputs      []Item
	processed   []Item
	bitToInputs map[int][]uint64
}

// New creates the queue and its on-disk layout under workDir.
func New(workDir string) (*Queue, error) {
	for _, dir := range []string{
		filepath.Join(workDir, "queue"),
		filepath.Join(workDir, "outputs", "queue"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fuzzerr.WithPath(fuzzerr.IOFailure, dir, "cannot create queue directory")
		}
	}
	return &Queue{
		workDir:     workDir,
		bitToInputs: make(map[int][]uint64),
	}, nil
}

// HasFreshBits reports whether allBits sets any bit that is not yet a key
// of the inverted index. A bit that is set but already indexed does not
// count as fresh.
func (q *Queue) HasFreshBits(allBits []byte) bool {
	for i, v := range allBits {
		if v != 0 {
			if _, indexed := q.bitToInputs[i]; !indexed {
				return true
			}
		}
	}
	return false
}

// Add admits tree if its coverage contributes at least one fresh bit:
// the inverted index is extended, the unparsed input is persisted under
// queue/, and the entry is enqueued. Inputs with no fresh bits are
// silently dropped.
func (q *Queue) Add(tree *grammar.Tree, allBits []byte, er feedback.ExitReason,
	ctx *grammar.Context, execTime time.Duration) error {
	if !q.HasFreshBits(allBits) {
		return nil
	}

	fresh := make(map[int]struct{})
	for i, v := range allBits {
		if v == 0 {
			continue
		}
		if _, indexed := q.bitToInputs[i]; !indexed {
			fresh[i] = struct{}{}
		}
		q.bitToInputs[i] = append(q.bitToInputs[i], q.currentID)
	}

	path := q.entryPath("queue", q.currentID, er)
	if err := os.WriteFile(path, tree.Unparse(ctx), 0600); err != nil {
		return fuzzerr.WithPath(fuzzerr.IOFailure, path, "cannot save tree")
	}

	q.inputs = append(q.inputs, Item{
		ID:         q.currentID,
		Tree:       tree,
		FreshBits:  fresh,
		AllBits:    allBits,
		ExitReason: er,
		ExecTime:   execTime,
	})

	if q.currentID == math.MaxUint64 {
		q.currentID = 0
	} else {
		q.currentID++
	}
	return nil
}

// Pop removes and returns the most recently added pending item and purges
// its id from every posting list. Calling Pop on an empty queue is a
// programming error.
func (q *Queue) Pop() Item {
	if q.IsEmpty() {
		panic("queue: Pop on empty queue")
	}

	n := len(q.inputs) - 1
	item := q.inputs[n]
	q.inputs[n] = Item{}
	q.inputs = q.inputs[:n]

	for bit, ids := range q.bitToInputs {
		kept := ids[:0]
		for _, id := range ids {
			if id != item.ID {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(q.bitToInputs, bit)
		} else {
			q.bitToInputs[bit] = kept
		}
	}

	return item
}

func (q *Queue) IsEmpty() bool { return len(q.inputs) == 0 }

// Len reports the number of pending items.
func (q *Queue) Len() int { return len(q.inputs) }

// NumProcessed reports the number of processed items awaiting the next round.
func (q *Queue) NumProcessed() int { return len(q.processed) }

// Finished re-checks a popped item against the current index. Items whose
// bits have all been re-covered in the meantime are retired: their mirror
// file under outputs/queue is deleted and the item is dropped. Otherwise
// the item's bits are re-registered and it moves to processed.
func (q *Queue) Finished(item Item) error {
	if !q.HasFreshBits(item.AllBits) {
		path := q.entryPath(filepath.Join("outputs", "queue"), item.ID, item.ExitReason)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fuzzerr.WithPath(fuzzerr.IOFailure, path, "cannot delete retired entry")
		}
		return nil
	}

	for i, v := range item.AllBits {
		if v != 0 {
			q.bitToInputs[i] = append(q.bitToInputs[i], item.ID)
		}
	}
	q.processed = append(q.processed, item)
	return nil
}

// NewRound moves every processed entry back into the pending list, after
// any items still pending, preserving relative order.
func (q *Queue) NewRound() {
	q.inputs = append(q.inputs, q.processed...)
	q.processed = q.processed[:0]
}

func (q *Queue) entryPath(sub string, id uint64, er feedback.ExitReason) string {
	return filepath.Join(q.workDir, sub, fmt.Sprintf("id:%09d,er:%d", id, int(er)))
}
