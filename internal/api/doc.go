// Package api exposes the REST surface of pantryd: a synchronous agent
// endpoint, asynchronous task submission and inspection, and a health probe.
package api
