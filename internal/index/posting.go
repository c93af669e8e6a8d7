package index

// Posting records one document's occurrences of a term.
type Posting struct {
	DocID     string
	Frequency int
	Positions []int
}

// PostingList is a term's postings, kept sorted by DocID ascending with no
// duplicate DocID entries.
type PostingList []Posting

// TermStats is the per-term view handed to scorers.
type TermStats struct {
	Term         string
	DocumentFreq int
	Postings     PostingList
}
