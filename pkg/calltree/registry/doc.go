// Package registry provides the thread-safe name-indexed table behind the
// calltree chain and function tables.
//
// Table is tuned for read-heavy use: every recorded call looks up its
// function and chains, while registrations are rare.
//
//	functions := registry.New[string, calltree.Func]()
//	functions.Register("add", add)
//
//	fn, ok := functions.Get("add")
//
// Register overwrites, so the last registration of a name wins, and reports
// whether it replaced an entry. DeleteFunc removes an entry only when it
// still holds the expected value, which lets a caller drop "its" entry
// without clobbering a newer one registered under the same name:
//
//	chains.DeleteFunc("c1", func(c *Chain) bool { return c == mine })
//
// Keys returns names in ascending order.
package registry
