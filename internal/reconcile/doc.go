// Package reconcile matches optimistically rendered messages against
// backend confirmation frames.
//
// A message sent over the transport is registered with AddOptimistic and
// tracked as pending. When the backend echoes a confirmation, the engine
// matches it back using content hashes, timestamp proximity, or a hybrid
// of both, and resolves the entry. Confirmations that cannot be matched
// are synthesized into standalone messages so no backend data is lost.
// Entries whose confirmation never arrives time out after a bounded
// number of retries.
package reconcile
