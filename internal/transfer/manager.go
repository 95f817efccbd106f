// Package transfer packages knowledge for peer instances and merges what
// peers send back. Network delivery degrades to a durable file fallback;
// incoming packages pass a compatibility-version gate before merging.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/mend/internal/metrics"
	"github.com/jordanhubbard/mend/internal/patterns"
	"github.com/jordanhubbard/mend/internal/repository"
	"github.com/jordanhubbard/mend/pkg/messages"
	"github.com/jordanhubbard/mend/pkg/models"
)

// ErrIncompatibleVersion rejects a package whose major version differs from
// the local compatibility version.
var ErrIncompatibleVersion = errors.New("incompatible package version")

const (
	// transferableSuccessRate and transferableMinUsage gate which patterns
	// are worth exporting.
	transferableSuccessRate = 0.7
	transferableMinUsage    = 2

	// adaptationPenalty discounts incoming solution confidence.
	adaptationPenalty = 0.9

	// deliveryTimeout bounds one network delivery attempt.
	deliveryTimeout = 10 * time.Second
)

// genericTypes are challenge categories shared by every peer. Specialized
// types travel only to peers that declare them.
var genericTypes = map[models.ChallengeType]bool{
	models.ChallengeTypePerformance: true,
	models.ChallengeTypeError:       true,
	models.ChallengeTypeScalability: true,
}

// Peer describes a registered target system.
type Peer struct {
	ID              string
	Specializations []models.ChallengeType // specialized challenge types the peer accepts
}

// Channel delivers packages to peers. Implementations must respect the
// context deadline.
type Channel interface {
	Deliver(ctx context.Context, pkg *messages.TransferPackage) error
}

// Manager coordinates knowledge exchange with peer instances
type Manager struct {
	systemID string
	repo     *repository.Repository
	library  *patterns.Library
	channel  Channel // nil when no transport is configured
	fallback *Fallback
	mets     *metrics.Metrics // nil disables delivery counters

	mu      sync.Mutex
	peers   map[string]Peer
	history map[string][]string // target -> package ids, in creation order
}

// NewManager creates a transfer manager. channel may be nil; fallback is
// required since it is the delivery path of last resort. mets may be nil when
// delivery counters are not wanted.
func NewManager(systemID string, repo *repository.Repository, library *patterns.Library, channel Channel, fallback *Fallback, mets *metrics.Metrics) *Manager {
	return &Manager{
		systemID: systemID,
		repo:     repo,
		library:  library,
		channel:  channel,
		fallback: fallback,
		mets:     mets,
		peers:    make(map[string]Peer),
		history:  make(map[string][]string),
	}
}

// RegisterPeer records a known target system.
func (m *Manager) RegisterPeer(p Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[p.ID] = p
}

// History returns the ids of packages created for a target.
func (m *Manager) History(target string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history[target]...)
}

// CreatePackage assembles an immutable knowledge bundle for the target:
// resolved challenges (with their solutions and learnings) of types the
// target accepts, plus transferable patterns. The bundle holds deep copies.
func (m *Manager) CreatePackage(target string) (*messages.TransferPackage, error) {
	pkg := messages.NewTransferPackage(m.systemID, target)

	accept := m.acceptedTypes(target)
	solutionIDs := make(map[string]bool)

	for _, ch := range m.repo.ListChallenges(models.ChallengeStatusResolved) {
		if !accept[ch.Type] {
			continue
		}
		cp, err := copyChallenge(ch)
		if err != nil {
			return nil, err
		}
		pkg.Challenges = append(pkg.Challenges, cp)
		for _, sol := range m.repo.SolutionsByChallenge(ch.ID) {
			sp, err := copySolution(sol)
			if err != nil {
				return nil, err
			}
			pkg.Solutions = append(pkg.Solutions, sp)
			solutionIDs[sol.ID] = true
		}
	}

	for _, l := range m.repo.Learnings() {
		if !accept[l.ChallengeType] || !solutionIDs[l.SolutionID] {
			continue
		}
		lp, err := copyLearning(l)
		if err != nil {
			return nil, err
		}
		pkg.Learnings = append(pkg.Learnings, lp)
	}

	for _, p := range m.library.All() {
		if p.SuccessRate <= transferableSuccessRate || p.UsageCount < transferableMinUsage {
			continue
		}
		if !accept[p.ChallengeType] {
			continue
		}
		pp, err := copyPattern(p)
		if err != nil {
			return nil, err
		}
		pkg.Patterns = append(pkg.Patterns, pp)
	}

	m.mu.Lock()
	m.history[target] = append(m.history[target], pkg.ID)
	m.mu.Unlock()

	return pkg, nil
}

// SendPackage attempts network delivery, degrading to the durable file
// fallback on a missing endpoint or delivery error. Delivery failure is
// never fatal; only losing the fallback write surfaces an error.
func (m *Manager) SendPackage(ctx context.Context, pkg *messages.TransferPackage) error {
	m.mu.Lock()
	_, registered := m.peers[pkg.TargetSystem]
	m.mu.Unlock()

	if registered && m.channel != nil {
		deliverCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
		err := m.channel.Deliver(deliverCtx, pkg)
		cancel()
		if err == nil {
			if m.mets != nil {
				m.mets.PackagesSent.WithLabelValues("network").Inc()
			}
			log.Printf("[Transfer] Delivered package %s to %s", pkg.ID, pkg.TargetSystem)
			return nil
		}
		log.Printf("[Transfer] Delivery of %s to %s failed, using file fallback: %v", pkg.ID, pkg.TargetSystem, err)
	} else {
		log.Printf("[Transfer] No endpoint for %s, writing package %s to file fallback", pkg.TargetSystem, pkg.ID)
	}

	if err := m.fallback.Write(pkg); err != nil {
		return fmt.Errorf("fallback persistence for package %s failed: %w", pkg.ID, err)
	}
	if m.mets != nil {
		m.mets.PackagesSent.WithLabelValues("fallback").Inc()
		m.mets.DeliveryFallback.Inc()
	}
	return nil
}

// ReceivePackage validates and merges an incoming bundle: patterns are
// merged (usage-weighted success-rate average, summed usage counts) or
// inserted, solutions are adapted with discounted confidence and fresh ids,
// and learnings are recorded tagged as transferred.
func (m *Manager) ReceivePackage(pkg *messages.TransferPackage) error {
	if pkg == nil {
		return fmt.Errorf("package cannot be nil")
	}
	if !messages.Compatible(pkg.Version, messages.CompatibilityVersion) {
		return fmt.Errorf("package %s has version %s, local is %s: %w",
			pkg.ID, pkg.Version, messages.CompatibilityVersion, ErrIncompatibleVersion)
	}

	for _, p := range pkg.Patterns {
		m.mergePattern(p)
	}

	remapped := make(map[string]string, len(pkg.Solutions))
	for _, sol := range pkg.Solutions {
		adapted, err := copySolution(sol)
		if err != nil {
			log.Printf("[Transfer] Skipping solution %s: %v", sol.ID, err)
			continue
		}
		adapted.ID = "sol-" + uuid.New().String()
		adapted.Confidence = sol.Confidence * adaptationPenalty
		remapped[sol.ID] = adapted.ID
		if err := m.repo.AddSolution(adapted); err != nil {
			log.Printf("[Transfer] Failed to store adapted solution: %v", err)
		}
	}

	for _, l := range pkg.Learnings {
		cp, err := copyLearning(l)
		if err != nil {
			log.Printf("[Transfer] Skipping learning %s: %v", l.ID, err)
			continue
		}
		cp.Transferred = true
		if id, ok := remapped[cp.SolutionID]; ok {
			cp.SolutionID = id
		}
		if err := m.repo.AppendLearning(cp); err != nil {
			log.Printf("[Transfer] Failed to record transferred learning: %v", err)
		}
	}

	log.Printf("[Transfer] Merged package %s from %s: %d patterns, %d solutions, %d learnings",
		pkg.ID, pkg.SourceSystem, len(pkg.Patterns), len(pkg.Solutions), len(pkg.Learnings))
	return nil
}

// mergePattern folds an incoming pattern into the library. Matching
// patterns get a usage-weighted success-rate average and summed usage
// counts; unknown patterns are inserted as-is.
func (m *Manager) mergePattern(incoming *models.Pattern) {
	cp, err := copyPattern(incoming)
	if err != nil {
		log.Printf("[Transfer] Skipping pattern %s: %v", incoming.ID, err)
		return
	}

	existing := m.library.FindSimilar(cp)
	if existing == nil {
		if err := m.library.Register(cp); err != nil {
			log.Printf("[Transfer] Failed to register pattern %s: %v", cp.ID, err)
		}
		return
	}

	totalUsage := existing.UsageCount + cp.UsageCount
	if totalUsage > 0 {
		existing.SuccessRate = (existing.SuccessRate*float64(existing.UsageCount) +
			cp.SuccessRate*float64(cp.UsageCount)) / float64(totalUsage)
	}
	existing.UsageCount = totalUsage
	existing.UpdatedAt = time.Now()
	if err := m.library.Register(existing); err != nil {
		log.Printf("[Transfer] Failed to merge pattern %s: %v", existing.ID, err)
	}
}

// acceptedTypes returns the challenge types the target receives: generic
// types always, specialized types only when the peer declares them.
func (m *Manager) acceptedTypes(target string) map[models.ChallengeType]bool {
	accept := make(map[models.ChallengeType]bool, len(genericTypes))
	for t := range genericTypes {
		accept[t] = true
	}
	m.mu.Lock()
	peer, ok := m.peers[target]
	m.mu.Unlock()
	if ok {
		for _, t := range peer.Specializations {
			accept[t] = true
		}
	}
	return accept
}

// Deep copies via JSON round trip keep packages detached from live records.

func copyChallenge(ch *models.Challenge) (*models.Challenge, error) {
	var cp models.Challenge
	if err := roundTrip(ch, &cp); err != nil {
		return nil, err
	}
	cp.Solutions = nil // solutions travel in their own section
	return &cp, nil
}

func copySolution(sol *models.Solution) (*models.Solution, error) {
	var cp models.Solution
	if err := roundTrip(sol, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func copyLearning(l *models.Learning) (*models.Learning, error) {
	var cp models.Learning
	if err := roundTrip(l, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func copyPattern(p *models.Pattern) (*models.Pattern, error) {
	var cp models.Pattern
	if err := roundTrip(p, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func roundTrip(in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to copy record: %w", err)
	}
	return json.Unmarshal(data, out)
}
