// Package storage provides the durable backends for notification history.
//
// Every backend stores the full entry set and replaces it on Save; the
// in-memory history.Store decides when to flush.
package storage
