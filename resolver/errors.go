package resolver

import (
	"errors"
	"fmt"

	"github.com/scott/kvdns/storage"
)

// ErrChainTooLong is returned once a CNAME chain exceeds the hop limit. It
// wraps storage.ErrNotFound, so the question counts as unanswered.
var ErrChainTooLong = fmt.Errorf("%w: alias chain too long", storage.ErrNotFound)

// asNotFound folds store failures into ErrNotFound for the question they
// affect. Context errors pass through.
func asNotFound(err error) error {
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if errors.Is(err, storage.ErrStore) {
		return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	}
	return err
}
