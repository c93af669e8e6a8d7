// Package index implements the in-memory inverted index. It owns all
// per-document token statistics: term frequencies, document lengths, the
// running average length, and the term → postings mapping.
//
// Readers (scoring) proceed concurrently under a shared lock; insert and
// remove take the exclusive lock and recompute the document count and
// average length atomically with the postings mutation. If a structural
// invariant violation is detected the index degrades to read-only mode:
// further writes fail with ErrIndexCorrupted while reads keep working.
package index

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/tokenizer"
	apperrors "github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/errors"
)

type Index struct {
	mu          sync.RWMutex
	inverted    map[string]PostingList
	docLengths  map[string]int
	docTerms    map[string][]string
	totalTokens int64
	readOnly    bool
	logger      *slog.Logger
}

func New() *Index {
	return &Index{
		inverted:   make(map[string]PostingList),
		docLengths: make(map[string]int),
		docTerms:   make(map[string][]string),
		logger:     slog.Default().With("component", "index"),
	}
}

// Insert adds a tokenized document. It fails with ErrDuplicateDocument if
// the id is already present and ErrIndexCorrupted when the index is in
// degraded read-only mode.
func (ix *Index) Insert(docID string, tokens []tokenizer.Token) error {
	termData := make(map[string]*Posting)
	for _, token := range tokens {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{
				DocID:     docID,
				Positions: make([]int, 0, 4),
			}
			termData[token.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.readOnly {
		return apperrors.ErrIndexCorrupted
	}
	if _, exists := ix.docLengths[docID]; exists {
		return fmt.Errorf("inserting %q: %w", docID, apperrors.ErrDuplicateDocument)
	}

	terms := make([]string, 0, len(termData))
	for term, posting := range termData {
		ix.inverted[term] = insertSorted(ix.inverted[term], *posting)
		terms = append(terms, term)
	}
	sort.Strings(terms)

	ix.docLengths[docID] = len(tokens)
	ix.docTerms[docID] = terms
	ix.totalTokens += int64(len(tokens))

	if err := ix.verifyLocked(docID); err != nil {
		ix.degradeLocked(err)
		return apperrors.ErrIndexCorrupted
	}
	return nil
}

// Remove deletes a document's postings and statistics. It fails with
// ErrDocumentNotFound if the id is absent.
func (ix *Index) Remove(docID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.readOnly {
		return apperrors.ErrIndexCorrupted
	}
	length, exists := ix.docLengths[docID]
	if !exists {
		return fmt.Errorf("removing %q: %w", docID, apperrors.ErrDocumentNotFound)
	}

	for _, term := range ix.docTerms[docID] {
		postings := removeDoc(ix.inverted[term], docID)
		if len(postings) == 0 {
			delete(ix.inverted, term)
		} else {
			ix.inverted[term] = postings
		}
	}
	delete(ix.docLengths, docID)
	delete(ix.docTerms, docID)
	ix.totalTokens -= int64(length)

	if ix.totalTokens < 0 {
		ix.degradeLocked(fmt.Errorf("negative token total after removing %q", docID))
		return apperrors.ErrIndexCorrupted
	}
	return nil
}

// Stats returns the document frequency and postings for a term. The postings
// slice is a copy; callers may not observe later mutations through it.
func (ix *Index) Stats(term string) TermStats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	postings := ix.inverted[term]
	out := make(PostingList, len(postings))
	copy(out, postings)
	return TermStats{
		Term:         term,
		DocumentFreq: len(postings),
		Postings:     out,
	}
}

// Has reports whether the document is indexed.
func (ix *Index) Has(docID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.docLengths[docID]
	return ok
}

// DocLength returns the token count of a document, or 0 if absent.
func (ix *Index) DocLength(docID string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.docLengths[docID]
}

// DocCount returns the number of indexed documents.
func (ix *Index) DocCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docLengths)
}

// AvgDocLength returns the running average document length in tokens.
func (ix *Index) AvgDocLength() float64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.docLengths) == 0 {
		return 0
	}
	return float64(ix.totalTokens) / float64(len(ix.docLengths))
}

// ReadOnly reports whether the index has degraded to read-only mode.
func (ix *Index) ReadOnly() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.readOnly
}

// CheckIntegrity walks every postings list and verifies ordering, dedup, and
// that every posting references a known document. On violation the index
// degrades to read-only mode and the error is returned.
func (ix *Index) CheckIntegrity() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for term, postings := range ix.inverted {
		if err := checkPostings(term, postings, ix.docLengths); err != nil {
			ix.degradeLocked(err)
			return fmt.Errorf("%w: %v", apperrors.ErrIndexCorrupted, err)
		}
	}
	return nil
}

// verifyLocked spot-checks the postings lists touched by the last insert.
func (ix *Index) verifyLocked(docID string) error {
	for _, term := range ix.docTerms[docID] {
		if err := checkPostings(term, ix.inverted[term], ix.docLengths); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Index) degradeLocked(cause error) {
	if !ix.readOnly {
		ix.readOnly = true
		ix.logger.Error("index invariant violated, degrading to read-only",
			"cause", cause,
		)
	}
}

func checkPostings(term string, postings PostingList, docLengths map[string]int) error {
	for i, p := range postings {
		if i > 0 && postings[i-1].DocID >= p.DocID {
			return fmt.Errorf("postings for %q unordered at %d (%q >= %q)",
				term, i, postings[i-1].DocID, p.DocID)
		}
		if _, ok := docLengths[p.DocID]; !ok {
			return fmt.Errorf("postings for %q reference unknown document %q", term, p.DocID)
		}
		if p.Frequency <= 0 {
			return fmt.Errorf("postings for %q carry non-positive frequency for %q", term, p.DocID)
		}
	}
	return nil
}

// insertSorted places p into postings keeping DocID ascending order.
func insertSorted(postings PostingList, p Posting) PostingList {
	i := sort.Search(len(postings), func(i int) bool {
		return postings[i].DocID >= p.DocID
	})
	postings = append(postings, Posting{})
	copy(postings[i+1:], postings[i:])
	postings[i] = p
	return postings
}

func removeDoc(postings PostingList, docID string) PostingList {
	i := sort.Search(len(postings), func(i int) bool {
		return postings[i].DocID >= docID
	})
	if i >= len(postings) || postings[i].DocID != docID {
		return postings
	}
	return append(postings[:i], postings[i+1:]...)
}
