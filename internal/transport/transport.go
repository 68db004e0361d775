// Package transport carries relay payloads between pipes: an in-process Bus
// for contexts sharing a process and QUIC links for contexts that do not.
package transport
