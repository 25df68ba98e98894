package match

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/driftchat/driftchat/internal/app"
	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/db"
	apperr "github.com/driftchat/driftchat/internal/errors"
	"github.com/driftchat/driftchat/internal/repository"
	"github.com/driftchat/driftchat/internal/scoring"
)

// Action reports how a match request resolved.
type Action string

const (
	// ActionJoined: the requester claimed a waiting candidate and joined
	// that candidate's session.
	ActionJoined Action = "joined"
	// ActionCreated: no candidate could be claimed; the requester now waits
	// in a fresh solo session.
	ActionCreated Action = "created"
)

// Result is the outcome of one match request.
type Result struct {
	SessionID string `json:"session_id"`
	Action    Action `json:"action"`
	Score     int    `json:"score"`
}

// BanChecker is the moderation boundary: it answers whether an identity is
// currently barred from matching. Supplied by an external collaborator; the
// default implementation reads the bans table.
type BanChecker interface {
	IsBanned(ctx context.Context, identityID uint64) (bool, error)
}

// Service implements the matchmaking engine: the waiting pool scan, the
// atomic claim-and-pair, and the enqueue fallback. Safe for arbitrary
// concurrent invocation; the only concurrency primitive is the conditional
// state transition inside the repositories.
type Service struct {
	appCtx     *app.AppContext
	cfg        *config.Config
	identities *repository.IdentityRepository
	pool       *repository.PoolRepository
	sessions   *repository.SessionRepository
	bans       BanChecker
	scorer     *scoring.CachedScorer
}

// NewService wires the matcher with its default collaborators.
func NewService(appCtx *app.AppContext, cfg *config.Config) *Service {
	return &Service{
		appCtx:     appCtx,
		cfg:        cfg,
		identities: repository.NewIdentityRepository(appCtx.DB),
		pool:       repository.NewPoolRepository(appCtx.DB),
		sessions:   repository.NewSessionRepository(appCtx.DB),
		bans:       repository.NewBanRepository(appCtx.DB),
		scorer:     scoring.NewCachedScorer(appCtx.RedisCache, cfg.Match.ScoreTTL, appCtx.Logger),
	}
}

type rankedCandidate struct {
	entry db.WaitingEntry
	score int
}

// RequestMatch pairs the requester with the best waiting candidate or
// enqueues them.
//
// One pass: refresh activity, gate on the ban predicate, lazily expire
// overdue entries, rank eligible candidates by score (ties oldest-first),
// then try to claim each in order. A lost claim race skips to the next
// candidate without blocking; if every candidate is lost or ineligible the
// requester gets a fresh waiting entry instead of a rescan, which bounds
// the latency of a single call.
func (s *Service) RequestMatch(ctx context.Context, identityID uint64, interests []string) (Result, error) {
	log := s.appCtx.Logger.With("identity_id", identityID)

	tags := normalizeInterests(interests, s.cfg.Match.MaxInterests)
	snapshot := db.EncodeInterests(tags)

	if err := s.identities.Refresh(ctx, identityID, snapshot); err != nil {
		return Result{}, err
	}

	banned, err := s.bans.IsBanned(ctx, identityID)
	if err != nil {
		return Result{}, err
	}
	if banned {
		log.Info("match request rejected, identity banned")
		return Result{}, apperr.ErrBanned
	}

	now := time.Now().UTC()
	if _, err := s.pool.ExpireOverdue(ctx, now); err != nil {
		return Result{}, err
	}

	candidates, err := s.rankCandidates(ctx, identityID, tags, now)
	if err != nil {
		return Result{}, err
	}

	for _, c := range candidates {
		err := s.pool.ClaimAndPair(ctx, c.entry, identityID, c.score)
		if errors.Is(err, apperr.ErrRaceLost) {
			log.Debug("claim race lost, skipping candidate", "entry_id", c.entry.ID)
			continue
		}
		if err != nil {
			return Result{}, err
		}
		log.Info("matched with waiting candidate",
			"session_id", c.entry.SessionID,
			"partner_id", c.entry.IdentityID,
			"score", c.score,
		)
		return Result{SessionID: c.entry.SessionID, Action: ActionJoined, Score: c.score}, nil
	}

	sessionID, err := s.pool.EnqueueWithSession(ctx, identityID, snapshot, s.cfg.Match.WaitTTL)
	if err != nil {
		return Result{}, err
	}
	log.Info("no claimable candidate, enqueued", "session_id", sessionID)
	return Result{SessionID: sessionID, Action: ActionCreated}, nil
}

// rankCandidates loads eligible waiting entries, drops banned ones, scores
// the rest and orders them score-descending. The repository scan already
// returns oldest-first, so the stable sort preserves age as the tie-break.
func (s *Service) rankCandidates(
	ctx context.Context,
	identityID uint64,
	tags []string,
	now time.Time,
) ([]rankedCandidate, error) {
	entries, err := s.pool.ListCandidates(ctx, identityID, now, s.cfg.Match.ScanLimit)
	if err != nil {
		return nil, err
	}

	ranked := make([]rankedCandidate, 0, len(entries))
	for _, entry := range entries {
		banned, err := s.bans.IsBanned(ctx, entry.IdentityID)
		if err != nil {
			s.appCtx.Logger.Warn("ban check failed for candidate, skipping",
				"candidate_id", entry.IdentityID, "err", err)
			continue
		}
		if banned {
			continue
		}
		score := s.scorer.Pair(ctx, identityID, entry.IdentityID, tags, db.DecodeInterests(entry.Interests))
		ranked = append(ranked, rankedCandidate{entry: entry, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked, nil
}

// CloseSession ends a session on behalf of one of its participants.
//
// Idempotent on an already-ended session. Both participants are marked
// inactive so neither is immediately re-paired, and any waiting entry still
// backing the session is expired so a closed solo session cannot be claimed.
func (s *Service) CloseSession(ctx context.Context, sessionID string, identityID uint64) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	if !isParticipant(session, identityID) {
		return apperr.ErrUnauthorized
	}

	if session.Status == db.SessionEnded {
		return nil
	}

	ended, err := s.sessions.End(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ended {
		// another caller ended it first; close stays idempotent
		return nil
	}

	if _, err := s.pool.ExpireForSession(ctx, sessionID); err != nil {
		return err
	}

	participants := []uint64{session.ParticipantA}
	if session.ParticipantB != nil {
		participants = append(participants, *session.ParticipantB)
	}
	if _, err := s.identities.Deactivate(ctx, participants...); err != nil {
		return err
	}

	s.appCtx.Logger.Info("session closed", "session_id", sessionID, "closed_by", identityID)
	return nil
}

// SessionMessages returns a session's messages for one of its participants.
func (s *Service) SessionMessages(ctx context.Context, sessionID string, identityID uint64) ([]db.Message, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(session, identityID) {
		return nil, apperr.ErrUnauthorized
	}
	return s.sessions.ListMessages(ctx, sessionID)
}

func isParticipant(session db.Session, identityID uint64) bool {
	if session.ParticipantA == identityID {
		return true
	}
	return session.ParticipantB != nil && *session.ParticipantB == identityID
}

// normalizeInterests canonicalizes, dedupes and caps the declared tags.
func normalizeInterests(tags []string, max int) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = scoring.Normalize(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == max {
			break
		}
	}
	return out
}
