package segment

import "github.com/hupe1980/segdb/model"

// FieldStats accumulates the statistics of one field while its store is written.
type FieldStats struct {
	docs     int
	terms    int
	nums     map[int64]struct{}
	targets  map[model.DocNum]struct{}
	min, max int64
}

// AddNumeric records the values of one document.
func (s *FieldStats) AddNumeric(vals []int64) {
	if len(vals) == 0 {
		return
	}
	s.docs++
	if s.nums == nil {
		s.nums = make(map[int64]struct{})
		s.min, s.max = vals[0], vals[0]
	}
	for _, v := range vals {
		s.min = min(s.min, v)
		s.max = max(s.max, v)
		s.nums[v] = struct{}{}
	}
}

// AddPostings records the term postings of one document.
func (s *FieldStats) AddPostings(terms []uint32) {
	if len(terms) > 0 {
		s.docs++
	}
}

// SetTerms records the size of the dictionary.
func (s *FieldStats) SetTerms(n int) { s.terms = n }

// AddLinks records the link targets of one document.
func (s *FieldStats) AddLinks(targets []model.DocNum) {
	if len(targets) == 0 {
		return
	}
	s.docs++
	if s.targets == nil {
		s.targets = make(map[model.DocNum]struct{})
	}
	for _, t := range targets {
		s.targets[t] = struct{}{}
	}
}

// Fill copies the statistics into fm.
func (s *FieldStats) Fill(fm *FieldMeta) {
	fm.Docs = s.docs
	switch {
	case fm.Type.IsTerm():
		fm.Distinct = s.terms
	case s.targets != nil:
		fm.Distinct = len(s.targets)
	case s.nums != nil:
		fm.Distinct = len(s.nums)
		fm.Min, fm.Max = s.min, s.max
	}
}
