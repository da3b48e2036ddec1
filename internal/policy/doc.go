// Package policy implements the routing host's access-control engine: a
// per-(uid, gid) set of allowed (service, instance-range, method-range)
// grants for offers/requests/sends, and an allowed eventgroup set for
// subscriptions. It implements routing.AccessControl.
//
// Rules are grouped into an immutable snapshot and looked up with a
// sorted binary search per credential bucket; SetRules replaces the
// whole snapshot rather than editing it in place. Updates (SetRules, SetMode) happen on the
// control thread; Allow is called from data-path goroutines and only
// ever reads an atomically loaded snapshot.
package policy
