package session

import (
	"fmt"

	"channel-watch-server/internal/errs"
	"channel-watch-server/internal/remote"
)

// translate maps a classified remote failure onto the shared sentinels.
// The original error stays in the chain so retry hints survive.
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch remote.KindOf(err) {
	case remote.KindInvalidPhone:
		return fmt.Errorf("%w: %w", errs.ErrInvalidPhone, err)
	case remote.KindRateLimited:
		return fmt.Errorf("%w: %w", errs.ErrRateLimited, err)
	case remote.KindPasswordNeeded:
		return fmt.Errorf("%w: %w", errs.ErrSecondFactorRequired, err)
	case remote.KindInvalidCode:
		return fmt.Errorf("%w: %w", errs.ErrInvalidCode, err)
	case remote.KindInvalidPassword:
		return fmt.Errorf("%w: %w", errs.ErrInvalidPassword, err)
	case remote.KindNotFound:
		return fmt.Errorf("%w: %w", errs.ErrNotFound, err)
	default:
		return err
	}
}
