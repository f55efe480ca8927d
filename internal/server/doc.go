// Package server implements the WebSocket transport and HTTP surface of
// GoChat.
//
// Each WebSocket connection is served by a Client with its own read and
// write pumps. The read pump handles frames strictly in order: decode, rate
// limit, session authentication and then the dispatcher. Outbound envelopes
// reach a Client through the router, which sees it as a Deliverer. The Hub
// only tracks live clients for counting and graceful shutdown; fan-out is
// the router's job.
package server
