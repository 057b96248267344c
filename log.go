// log.go - structured diagnostic logging (spec SPEC_FULL §6 AMBIENT STACK).
//
// Generalizes the teacher's modern_utils.go stdlog+DebugConversion flag
// into a log/slog seam: each insert, update and delete commit (including
// deleteMany) and each successful createIndex emits a debug-level record
// naming the collection and outcome; reads and DropIndex emit none. No
// destination is hardwired the way the teacher hardwired stdlog.Printf.

package kvdoc

import (
	"context"
	"log/slog"
)

// logOp emits one debug-level structured record for a KV-touching
// operation. Silently does nothing if the engine has no logger configured
// (the zero-value default, matching the teacher's debug flag defaulting
// to off).
func (e *Engine) logOp(ctx context.Context, op, collection, outcome string) {
	if e.logger == nil {
		return
	}
	e.logger.DebugContext(ctx, "kvdoc op",
		slog.String("op", op),
		slog.String("collection", collection),
		slog.String("outcome", outcome),
	)
}
