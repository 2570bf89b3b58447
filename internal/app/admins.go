package app

import (
	"slices"
	"sync/atomic"
)

// adminSet is the hot-reloadable admin identity list behind audience.AdminSource.
type adminSet struct {
	ids atomic.Pointer[[]int64]
}

func newAdminSet(ids []int64) *adminSet {
	s := &adminSet{}
	s.Set(ids)
	return s
}

func (s *adminSet) Set(ids []int64) {
	cp := slices.Clone(ids)
	s.ids.Store(&cp)
}

func (s *adminSet) AdminIDs() []int64 {
	p := s.ids.Load()
	if p == nil {
		return nil
	}
	return *p
}
