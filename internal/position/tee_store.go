package position

import "github.com/rs/zerolog"

// TeeStore writes to a primary store and best-effort mirrors to a secondary.
// Loads come from the primary only; a mirror write failure is logged, not
// propagated, so Redis being down never blocks trading.
type TeeStore struct {
	primary Store
	mirror  Store
	logger  zerolog.Logger
}

// NewTeeStore wraps primary with a mirror.
func NewTeeStore(primary, mirror Store, logger zerolog.Logger) *TeeStore {
	return &TeeStore{
		primary: primary,
		mirror:  mirror,
		logger:  logger.With().Str("component", "position_store").Logger(),
	}
}

func (s *TeeStore) Save(positions []Position) error {
	if err := s.primary.Save(positions); err != nil {
		return err
	}
	if err := s.mirror.Save(positions); err != nil {
		s.logger.Warn().Err(err).Msg("error mirroring position state")
	}
	return nil
}

func (s *TeeStore) Load() ([]Position, error) {
	return s.primary.Load()
}
