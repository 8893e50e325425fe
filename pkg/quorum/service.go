// Package quorum operates the Elder committee: it boots the n
// committee identities from the keystore, produces m-of-n signature
// envelopes over canonical block header bytes, verifies envelopes,
// and drives the rotation and revocation lifecycle.
//
// Envelopes carry plain independent Ed25519 signatures, not an
// aggregate. Verification counts distinct committee keys, so a
// duplicated signer never inflates the tally, and a slashed member's
// signatures stop counting the moment the revocation lands.
package quorum

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/audit"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/canonicalize"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/keystore"
)

// Config is the committee arithmetic fixed at boot.
type Config struct {
	// N is the committee size; indexes 0..N-1 are loaded from the
	// keystore at construction.
	N int
	// M is the number of distinct valid signatures an envelope needs.
	M int
}

// member pairs a committee identity with its signing handle.
type member struct {
	elder  contracts.Elder
	signer keystore.Signer
	index  int
}

// Service manages the committee. All state transitions happen under
// the service lock; signing I/O runs outside it against captured
// signer handles.
type Service struct {
	mu      sync.RWMutex
	cfg     Config
	members map[string]*member
	order   []string
	keys    *keystore.Store
	clock   func() time.Time
	logger  *slog.Logger
	events  audit.Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithAudit mirrors committee lifecycle transitions onto an audit
// recorder.
func WithAudit(rec audit.Recorder) Option {
	return func(s *Service) { s.events = rec }
}

// New boots the committee. Every index 0..N-1 is loaded or created in
// the keystore, so a fresh data directory comes up with a full
// committee. Bad quorum arithmetic is a boot-time refusal, not a
// runtime surprise.
func New(cfg Config, keys *keystore.Store, opts ...Option) (*Service, error) {
	if cfg.N < 1 {
		return nil, fault.Preconditionf(fault.CodeQuorumConfig,
			"committee size must be at least 1, got %d", cfg.N)
	}
	if cfg.M < 1 {
		return nil, fault.Preconditionf(fault.CodeQuorumConfig,
			"quorum threshold must be at least 1, got %d", cfg.M)
	}
	if cfg.M > cfg.N {
		return nil, fault.Preconditionf(fault.CodeQuorumConfig,
			"quorum threshold %d exceeds committee size %d", cfg.M, cfg.N)
	}

	s := &Service{
		cfg:     cfg,
		members: make(map[string]*member, cfg.N),
		keys:    keys,
		clock:   time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for i := 0; i < cfg.N; i++ {
		elder, signer, err := keys.LoadOrCreateElder(i)
		if err != nil {
			return nil, err
		}
		if _, dup := s.members[elder.ElderID]; dup {
			return nil, fault.Preconditionf(fault.CodeQuorumConfig,
				"elder id %s already registered", elder.ElderID)
		}
		s.members[elder.ElderID] = &member{elder: elder, signer: signer, index: i}
		s.order = append(s.order, elder.ElderID)
	}
	// Committee order is lexicographic over elder ids, not numeric
	// over indexes.
	sort.Strings(s.order)

	s.logger.Info("committee ready", "n", cfg.N, "m", cfg.M)
	return s, nil
}

// ElderView is the public projection of a committee member.
type ElderView struct {
	ElderID      string                `json:"elder_id"`
	PublicKeyB64 string                `json:"public_key_b64"`
	Fingerprint  string                `json:"fingerprint"`
	Status       contracts.ElderStatus `json:"status"`
	Reputation   float64               `json:"reputation"`
}

// ElderList is the committee roster plus its quorum arithmetic.
type ElderList struct {
	N      int         `json:"n"`
	M      int         `json:"m"`
	Elders []ElderView `json:"elders"`
}

// ListElders returns a snapshot of the roster in committee order.
func (s *Service) ListElders() ElderList {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := ElderList{N: s.cfg.N, M: s.cfg.M, Elders: make([]ElderView, 0, len(s.order))}
	for _, id := range s.order {
		out.Elders = append(out.Elders, s.viewLocked(s.members[id]))
	}
	return out
}

// Policy returns the committee's m-of-n arithmetic.
func (s *Service) Policy() contracts.QuorumPolicy {
	return contracts.QuorumPolicy{M: s.cfg.M, N: s.cfg.N}
}

// signTask is a selection slot captured under the read lock, so
// signing I/O never holds the service lock.
type signTask struct {
	elderID string
	pub     ed25519.PublicKey
	signer  keystore.Signer
}

// SignBlock produces an envelope over the canonical bytes of header.
// With no explicit selection every active member signs, in committee
// order. An explicit selection is honored in the order given and must
// name registered, active members. Individual signing failures drop
// that slot with a warning rather than failing the envelope, and a
// cancelled context abandons not-yet-issued signatures, so the result
// can be sub-quorum; producing such an envelope is legal, accepting
// one is not.
func (s *Service) SignBlock(ctx context.Context, header contracts.BlockHeader, elderIDs []string) (contracts.QuorumEnvelope, error) {
	canonical, err := canonicalize.Header(header)
	if err != nil {
		return contracts.QuorumEnvelope{}, err
	}

	s.mu.RLock()
	tasks := make([]signTask, 0, len(s.order))
	if len(elderIDs) == 0 {
		for _, id := range s.order {
			m := s.members[id]
			if m.elder.Status != contracts.ElderActive {
				continue
			}
			tasks = append(tasks, signTask{elderID: id, pub: m.elder.PublicKey, signer: m.signer})
		}
	} else {
		for _, id := range elderIDs {
			m, ok := s.members[id]
			if !ok {
				s.mu.RUnlock()
				return contracts.QuorumEnvelope{}, fault.NotFoundf(fault.CodeUnknownElder,
					"elder %s is not registered", id)
			}
			if m.elder.Status != contracts.ElderActive {
				s.mu.RUnlock()
				return contracts.QuorumEnvelope{}, fault.Unauthorizedf(fault.CodeInactiveElder,
					"elder %s is %s, not active", id, m.elder.Status)
			}
			tasks = append(tasks, signTask{elderID: id, pub: m.elder.PublicKey, signer: m.signer})
		}
	}
	policy := contracts.QuorumPolicy{M: s.cfg.M, N: s.cfg.N}
	s.mu.RUnlock()

	// One slot per selection, filled concurrently. Slot order, not
	// completion order, decides envelope order.
	results := make([]*contracts.SingleSignature, len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		g.Go(func() error {
			sig, err := t.signer.Sign(ctx, canonical)
			if err != nil {
				s.logger.Warn("elder signature dropped",
					"elder_id", t.elderID, "error", err)
				return nil
			}
			results[i] = &contracts.SingleSignature{
				ElderID:         t.elderID,
				SignerPublicKey: base64.StdEncoding.EncodeToString(t.pub),
				SignatureBytes:  hex.EncodeToString(sig),
				SignedAtTS:      s.clock().Unix(),
			}
			return nil
		})
	}
	_ = g.Wait()

	env := contracts.QuorumEnvelope{Policy: policy, Signatures: make([]contracts.SingleSignature, 0, len(tasks))}
	signedIDs := make([]string, 0, len(tasks))
	for _, r := range results {
		if r == nil {
			continue
		}
		env.Signatures = append(env.Signatures, *r)
		signedIDs = append(signedIDs, r.ElderID)
	}

	if len(signedIDs) > 0 {
		now := s.clock()
		s.mu.Lock()
		for _, id := range signedIDs {
			if m, ok := s.members[id]; ok {
				m.elder.LastActivityTS = now
			}
		}
		s.mu.Unlock()
	}

	if len(env.Signatures) < policy.M {
		s.logger.Warn("sub-quorum envelope produced",
			"collected", len(env.Signatures), "required_m", policy.M)
	}
	return env, nil
}

// VerifyQuorum checks an envelope against canonical header bytes. It
// is pure CPU work and always returns a verdict: malformed encodings,
// unknown keys and slashed members simply do not count. Distinct
// valid committee keys are tallied against the service's own m, and
// ValidSigners comes back in committee order.
func (s *Service) VerifyQuorum(canonical []byte, env contracts.QuorumEnvelope) contracts.QuorumVerification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counted := make(map[string]bool, len(env.Signatures))
	validByID := make(map[string]bool, len(env.Signatures))
	for _, sig := range env.Signatures {
		if counted[sig.SignerPublicKey] {
			continue
		}
		pub, err := base64.StdEncoding.DecodeString(sig.SignerPublicKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			continue
		}
		raw, err := hex.DecodeString(sig.SignatureBytes)
		if err != nil || len(raw) != ed25519.SignatureSize {
			continue
		}
		m := s.lookupByKeyLocked(pub)
		if m == nil || m.elder.Status == contracts.ElderSlashed {
			continue
		}
		if !ed25519.Verify(pub, canonical, raw) {
			continue
		}
		counted[sig.SignerPublicKey] = true
		validByID[m.elder.ElderID] = true
	}

	validSigners := make([]string, 0, len(validByID))
	for _, id := range s.order {
		if validByID[id] {
			validSigners = append(validSigners, id)
		}
	}
	return contracts.QuorumVerification{
		Valid:         len(validSigners) >= s.cfg.M,
		ValidSigners:  validSigners,
		RequiredM:     s.cfg.M,
		TotalDistinct: len(validSigners),
	}
}

// probeRotation signs a fixed message with a freshly rotated signer
// and self-verifies it. A var so tests can exercise the failure path.
var probeRotation = func(ctx context.Context, elderID string, signer keystore.Signer) bool {
	probe := []byte("rotation probe " + elderID)
	sig, err := signer.Sign(ctx, probe)
	return err == nil && ed25519.Verify(signer.Public(), probe, sig)
}

// RotateElder replaces a member's keypair. The member sits in
// rotating status while the keystore swaps files, then a probe
// signature decides whether it returns to active or parks inactive.
// A probe failure is a completed transition to inactive, not an
// error; keystore I/O failures surface as infrastructure faults and
// also park the member.
func (s *Service) RotateElder(ctx context.Context, elderID string) (ElderView, error) {
	s.mu.Lock()
	m, ok := s.members[elderID]
	if !ok {
		s.mu.Unlock()
		return ElderView{}, fault.NotFoundf(fault.CodeUnknownElder, "elder %s is not registered", elderID)
	}
	switch m.elder.Status {
	case contracts.ElderSlashed:
		s.mu.Unlock()
		return ElderView{}, fault.Preconditionf(fault.CodeBadTransition,
			"elder %s is slashed and cannot be rotated", elderID)
	case contracts.ElderRotating:
		s.mu.Unlock()
		return ElderView{}, fault.Preconditionf(fault.CodeBadTransition,
			"elder %s is already rotating", elderID)
	}
	m.elder.Status = contracts.ElderRotating
	index := m.index
	s.mu.Unlock()

	priv, err := s.keys.GenerateKeypair()
	if err != nil {
		return s.parkInactive(m, "keygen failed"), err
	}
	signer, err := s.keys.Rotate(index, priv)
	if err != nil {
		return s.parkInactive(m, "keystore rotate failed"), err
	}

	if !probeRotation(ctx, elderID, signer) {
		view := s.parkInactive(m, "probe signature did not verify")
		s.recordEvent(audit.KindElderRotated, elderID, map[string]string{"result": string(contracts.ElderInactive)})
		return view, nil
	}

	s.mu.Lock()
	m.elder.PublicKey = signer.Public()
	m.elder.Status = contracts.ElderActive
	m.elder.LastActivityTS = s.clock()
	m.signer = signer
	view := s.viewLocked(m)
	s.mu.Unlock()

	s.logger.Info("elder rotated", "elder_id", elderID, "fingerprint", view.Fingerprint)
	s.recordEvent(audit.KindElderRotated, elderID, map[string]string{
		"result":      string(contracts.ElderActive),
		"fingerprint": view.Fingerprint,
	})
	return view, nil
}

// RevokeElder slashes a member. Slashed is terminal for the process
// lifetime: the member leaves every future selection and its
// signatures stop counting during verification.
func (s *Service) RevokeElder(ctx context.Context, elderID, reason string) (ElderView, error) {
	_ = ctx
	s.mu.Lock()
	m, ok := s.members[elderID]
	if !ok {
		s.mu.Unlock()
		return ElderView{}, fault.NotFoundf(fault.CodeUnknownElder, "elder %s is not registered", elderID)
	}
	if m.elder.Status == contracts.ElderSlashed {
		s.mu.Unlock()
		return ElderView{}, fault.Preconditionf(fault.CodeBadTransition,
			"elder %s is already slashed", elderID)
	}
	m.elder.Status = contracts.ElderSlashed
	m.elder.Reputation = 0
	view := s.viewLocked(m)
	s.mu.Unlock()

	s.logger.Warn("elder revoked", "elder_id", elderID, "reason", reason)
	s.recordEvent(audit.KindElderRevoked, elderID, map[string]string{"reason": reason})
	return view, nil
}

func (s *Service) viewLocked(m *member) ElderView {
	return ElderView{
		ElderID:      m.elder.ElderID,
		PublicKeyB64: base64.StdEncoding.EncodeToString(m.elder.PublicKey),
		Fingerprint:  m.elder.Fingerprint(),
		Status:       m.elder.Status,
		Reputation:   m.elder.Reputation,
	}
}

func (s *Service) lookupByKeyLocked(pub []byte) *member {
	for _, id := range s.order {
		if m := s.members[id]; bytes.Equal(m.elder.PublicKey, pub) {
			return m
		}
	}
	return nil
}

func (s *Service) parkInactive(m *member, why string) ElderView {
	s.mu.Lock()
	m.elder.Status = contracts.ElderInactive
	view := s.viewLocked(m)
	s.mu.Unlock()
	s.logger.Warn("elder parked inactive", "elder_id", view.ElderID, "reason", why)
	return view
}

func (s *Service) recordEvent(kind, actor string, details map[string]string) {
	if s.events == nil {
		return
	}
	s.events.Record(kind, actor, details)
}
