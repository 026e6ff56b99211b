// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file was adapted from an auto-generated set implementation; unlike
// its source it is hand-maintained since only the int-tid instantiation
// is needed here.

package kernel

// tidSet is a membership set over thread ids, used by LiveTids and by
// tests comparing the set of live threads against an expected set
// without depending on queue order.
type tidSet map[int]struct{}

// tidSetFromSlice transforms the given slice to a set.
func tidSetFromSlice(els []int) tidSet {
	if len(els) == 0 {
		return nil
	}
	result := tidSet{}
	for _, el := range els {
		result[el] = struct{}{}
	}
	return result
}

// toSlice transforms the set to a slice.
func (s tidSet) toSlice() []int {
	var result []int
	for el := range s {
		result = append(result, el)
	}
	return result
}

// union merges s and other, returning the result as a new set.
func (s tidSet) union(other tidSet) tidSet {
	result := tidSet{}
	for el := range s {
		result[el] = struct{}{}
	}
	for el := range other {
		result[el] = struct{}{}
	}
	return result
}

// difference subtracts other from s, returning the result as a new set.
func (s tidSet) difference(other tidSet) tidSet {
	result := tidSet{}
	for el := range s {
		if _, ok := other[el]; !ok {
			result[el] = struct{}{}
		}
	}
	return result
}

// NewlyLiveTids returns the tids present in LiveTids() now but not in
// before, a snapshot obtained from an earlier LiveTids() call. Tests use
// this to isolate the threads a scenario created from whatever was
// already live (main, idle).
func (k *Kernel) NewlyLiveTids(before []int) []int {
	return tidSetFromSlice(k.LiveTids()).difference(tidSetFromSlice(before)).toSlice()
}

// AllLiveTids returns the union of two tid snapshots, useful for
// combining LiveTids() readings taken at different points in a test.
func AllLiveTids(a, b []int) []int {
	return tidSetFromSlice(a).union(tidSetFromSlice(b)).toSlice()
}
