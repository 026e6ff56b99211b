package kernel

import "sort"

// Every waiter list in this package (the ready structure, a semaphore's
// waiters, a condition variable's waiters) uses the same ordering rule:
// highest effective priority first, FIFO among equal priorities. Because a
// donation can raise a waiter's priority after it was inserted, the lists
// that matter for correctness are re-sorted on dequeue rather than kept
// sorted by insertion order alone; see sortByPriority.

// insertByPriority inserts t into *list, kept ordered by descending
// priority with ties broken by ascending seq (FIFO). This is the
// insertion-order invariant used by the ready structure, by sema_down
// queuing the caller on a semaphore's waiters, and by unblock/yield.
func insertByPriority(list *[]*Thread, t *Thread) {
	l := *list
	i := sort.Search(len(l), func(i int) bool {
		if l[i].priority != t.priority {
			return l[i].priority < t.priority
		}
		return l[i].seq > t.seq
	})
	l = append(l, nil)
	copy(l[i+1:], l[i:])
	l[i] = t
	*list = l
}

// sortByPriority re-sorts a waiter list by each thread's current
// priority, descending, FIFO among ties. Used wherever a donation may
// have raised a waiter's priority since it was inserted: sema_up and the
// dispatcher's pick from the ready structure (which also covers MLFQS
// priority recomputation). cond_signal sorts its own waiter records with
// sortCVWaiters, by the same rule.
func sortByPriority(list []*Thread) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].seq < list[j].seq
	})
}
