// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing task events, conversations, scripted
// task streams and remote agents. They are not intended for production usage.
package testutil
