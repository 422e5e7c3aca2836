// Package jobpool keeps track of dispatched jobs so they can be listed,
// waited for and killed. The pool performs no execution itself.
package jobpool
