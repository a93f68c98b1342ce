// Package ctl implements offlinegatectl, the command-line client for the
// gateway's control API (/_gateway). Output is a table on a terminal and
// JSON otherwise, or when --json is given.
package ctl
