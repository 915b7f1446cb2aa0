/*
Package log provides the structured logging used by every package in this
module, built on zerolog.

Init configures the global Logger (level, JSON vs console output, target
writer). Packages obtain child loggers tagged with their own identifying
field — WithComponent for a package name, WithDomain for a data domain,
WithAlias for a store alias, WithConnection for a transport connection id —
rather than writing to the global Logger directly, so that log lines from a
busy store or transport server can be filtered by the entity that produced
them.
*/
package log
