package config

import (
	"strings"
	"sync"
)

// Store is the runtime copy of the settings shared by all components.
// Mutation happens only through the setters, each of which clamps.
type Store struct {
	mu sync.RWMutex
	s  Settings
}

// NewStore creates a store holding the clamped settings.
func NewStore(s Settings) *Store {
	return &Store{s: s.Clamp()}
}

// Get returns a snapshot.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// Replace swaps in new settings and returns what was stored after clamping.
func (st *Store) Replace(s Settings) Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s = s.Clamp()
	return st.s
}

// SetRequireManualApproval toggles manual approval.
func (st *Store) SetRequireManualApproval(v bool) {
	st.update(func(s *Settings) { s.RequireManualApproval = v })
}

// SetAutoPromoteThreshold stores the clamped threshold and returns it.
func (st *Store) SetAutoPromoteThreshold(v int) int {
	var out int
	st.update(func(s *Settings) {
		s.AutoPromoteThreshold = clampInt(v, MinAutoPromoteThreshold, MaxAutoPromoteThreshold)
		out = s.AutoPromoteThreshold
	})
	return out
}

// SetAutoPromoteTier sets the minimum tier for auto promotion.
func (st *Store) SetAutoPromoteTier(v string) error {
	tier, err := ParseTier(v)
	if err != nil {
		return err
	}
	st.update(func(s *Settings) { s.AutoPromoteTier = tier })
	return nil
}

// SetResearchHints sets the hints for one mode.
func (st *Store) SetResearchHints(mode string, h ResearchHints) error {
	h = h.clamp()
	var err error
	st.update(func(s *Settings) {
		switch strings.ToUpper(mode) {
		case "SCANNING":
			s.Research.Scanning = h
		case "BALANCED":
			s.Research.Balanced = h
		case "DEEP_RESEARCH":
			s.Research.DeepResearch = h
		default:
			err = ErrUnknownMode
		}
	})
	return err
}

// SetQCLimits sets the daily and weekly promotion budgets. Zero disables a limit.
func (st *Store) SetQCLimits(daily, weekly int) {
	st.update(func(s *Settings) {
		s.QCDailyLimit = clampInt(daily, 0, MaxQCDailyLimit)
		s.QCWeeklyLimit = clampInt(weekly, 0, MaxQCWeeklyLimit)
	})
}

// SetFastTrack sets the fast-track gates.
func (st *Store) SetFastTrack(enabled bool, g Gates) {
	st.update(func(s *Settings) {
		s.FastTrack = FastTrack{Enabled: enabled, Gates: g.Clamp()}
	})
}

// SetTrialsAutoPromote sets the trial auto-promotion gates.
func (st *Store) SetTrialsAutoPromote(enabled bool, g Gates) {
	st.update(func(s *Settings) {
		s.TrialsAutoPromote = TrialsAutoPromote{Enabled: enabled, Gates: g.Clamp()}
	})
}

func (st *Store) update(fn func(*Settings)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.s)
}
