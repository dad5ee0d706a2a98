package sqlite

import (
	"context"

	syncErrors "github.com/c0deZ3R0/carsync/errors"
	"github.com/c0deZ3R0/carsync/model"
)

// Peek returns up to limit queued commands in enqueue order without removing them.
// A limit <= 0 returns every command.
func (s *CommandStore) Peek(ctx context.Context, limit int) ([]model.Command, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, operation, arguments, placeholder_id, enqueued_at, attempts FROM commands ORDER BY seq ASC LIMIT ?`, limit)
	if err != nil {
		return nil, syncErrors.NewLocalPersistenceError(syncErrors.OpDrain, componentName, err)
	}
	cmds, _, err := scanCommands(rows)
	if err != nil {
		return nil, syncErrors.NewLocalPersistenceError(syncErrors.OpDrain, componentName, err)
	}
	return cmds, nil
}
