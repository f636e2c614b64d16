// Package profiles manages named profiles and their assignment to users.
// A profile bundles permission sets so that assigning one profile grants a
// whole job function's access; each user holds at most one profile at a
// time, and reassignment replaces the previous one.
package profiles
