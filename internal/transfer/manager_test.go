package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/mend/internal/metrics"
	"github.com/jordanhubbard/mend/internal/patterns"
	"github.com/jordanhubbard/mend/internal/repository"
	"github.com/jordanhubbard/mend/pkg/messages"
	"github.com/jordanhubbard/mend/pkg/models"
)

type fakeChannel struct {
	err       error
	delivered []*messages.TransferPackage
}

func (c *fakeChannel) Deliver(_ context.Context, pkg *messages.TransferPackage) error {
	if c.err != nil {
		return c.err
	}
	c.delivered = append(c.delivered, pkg)
	return nil
}

func newManager(t *testing.T, ch Channel) (*Manager, *repository.Repository, *patterns.Library, string) {
	t.Helper()
	root := t.TempDir()
	fb, err := NewFallback(filepath.Join(root, "outbox"), filepath.Join(root, "inbox"))
	require.NoError(t, err)
	t.Cleanup(fb.Close)

	repo := repository.New()
	lib := patterns.NewLibrary(repo)
	return NewManager("sys-a", repo, lib, ch, fb, nil), repo, lib, root
}

func resolvedChallenge(t *testing.T, repo *repository.Repository, ctype models.ChallengeType, desc string) *models.Challenge {
	t.Helper()
	ch := models.NewChallenge(ctype, models.SeverityHigh, desc,
		models.ChallengeContext{CPU: 90}, models.OriginAutomatic)
	require.NoError(t, repo.CreateChallenge(ch))
	ch.Status = models.ChallengeStatusResolved
	require.NoError(t, repo.UpdateChallenge(ch))
	return ch
}

func TestCreatePackage_ResolvedGenericKnowledge(t *testing.T) {
	mgr, repo, lib, _ := newManager(t, nil)

	ch := resolvedChallenge(t, repo, models.ChallengeTypePerformance, "cpu saturated")
	sol := models.NewSolution(ch.ID, "scale out", "", models.Implementation{}, 0.9)
	require.NoError(t, repo.AddSolution(sol))
	require.NoError(t, repo.AppendLearning(models.NewLearning(ch, sol, models.OutcomeSuccess)))

	// Pending work never travels.
	pending := models.NewChallenge(models.ChallengeTypeError, models.SeverityLow, "flaky timeouts",
		models.ChallengeContext{}, models.OriginAutomatic)
	require.NoError(t, repo.CreateChallenge(pending))

	good := models.NewPattern("proven", models.ChallengeTypePerformance, models.TriggerCondition{},
		models.SolutionTemplate{Steps: []string{"scale"}}, 0.9)
	good.UsageCount = 5
	require.NoError(t, lib.Register(good))

	unproven := models.NewPattern("unproven", models.ChallengeTypeError, models.TriggerCondition{},
		models.SolutionTemplate{Steps: []string{"restart"}}, 0.9)
	require.NoError(t, lib.Register(unproven)) // usage count 1, below the export bar

	pkg, err := mgr.CreatePackage("sys-b")
	require.NoError(t, err)

	assert.Equal(t, "sys-a", pkg.SourceSystem)
	assert.Equal(t, "sys-b", pkg.TargetSystem)
	require.Len(t, pkg.Challenges, 1)
	assert.Equal(t, ch.ID, pkg.Challenges[0].ID)
	assert.Nil(t, pkg.Challenges[0].Solutions)
	require.Len(t, pkg.Solutions, 1)
	require.Len(t, pkg.Learnings, 1)
	require.Len(t, pkg.Patterns, 1)
	assert.Equal(t, "proven", pkg.Patterns[0].Name)

	assert.Equal(t, []string{pkg.ID}, mgr.History("sys-b"))
}

func TestCreatePackage_SpecializedTypesNeedDeclaration(t *testing.T) {
	mgr, repo, _, _ := newManager(t, nil)
	resolvedChallenge(t, repo, models.ChallengeTypeSecurity, "expired certificate")

	pkg, err := mgr.CreatePackage("sys-b")
	require.NoError(t, err)
	assert.Empty(t, pkg.Challenges, "security stays home without a declaring peer")

	mgr.RegisterPeer(Peer{ID: "sys-b", Specializations: []models.ChallengeType{models.ChallengeTypeSecurity}})
	pkg, err = mgr.CreatePackage("sys-b")
	require.NoError(t, err)
	assert.Len(t, pkg.Challenges, 1)
}

func TestCreatePackage_DeepCopies(t *testing.T) {
	mgr, repo, _, _ := newManager(t, nil)
	ch := resolvedChallenge(t, repo, models.ChallengeTypePerformance, "cpu saturated")

	pkg, err := mgr.CreatePackage("sys-b")
	require.NoError(t, err)
	require.Len(t, pkg.Challenges, 1)

	ch.Description = "mutated after packaging"
	assert.Equal(t, "cpu saturated", pkg.Challenges[0].Description)
}

func TestSendPackage_DeliversOverChannel(t *testing.T) {
	ch := &fakeChannel{}
	mgr, _, _, root := newManager(t, ch)
	mgr.RegisterPeer(Peer{ID: "sys-b"})

	pkg := messages.NewTransferPackage("sys-a", "sys-b")
	require.NoError(t, mgr.SendPackage(context.Background(), pkg))
	require.Len(t, ch.delivered, 1)

	entries, err := os.ReadDir(filepath.Join(root, "outbox"))
	require.NoError(t, err)
	assert.Empty(t, entries, "successful delivery skips the fallback")
}

func TestSendPackage_FallsBackOnDeliveryError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("broker down")}
	mgr, _, _, root := newManager(t, ch)
	mgr.RegisterPeer(Peer{ID: "sys-b"})

	pkg := messages.NewTransferPackage("sys-a", "sys-b")
	require.NoError(t, mgr.SendPackage(context.Background(), pkg))

	entries, err := os.ReadDir(filepath.Join(root, "outbox", "sys-b"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), pkg.ID)
}

func TestSendPackage_FallsBackForUnknownPeer(t *testing.T) {
	mgr, _, _, root := newManager(t, &fakeChannel{})

	pkg := messages.NewTransferPackage("sys-a", "sys-x")
	require.NoError(t, mgr.SendPackage(context.Background(), pkg))

	entries, err := os.ReadDir(filepath.Join(root, "outbox", "sys-x"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSendPackage_CountsDeliveryPaths(t *testing.T) {
	mets := metrics.NewMetrics()
	ch := &fakeChannel{}
	root := t.TempDir()
	fb, err := NewFallback(filepath.Join(root, "outbox"), filepath.Join(root, "inbox"))
	require.NoError(t, err)
	t.Cleanup(fb.Close)

	repo := repository.New()
	mgr := NewManager("sys-a", repo, patterns.NewLibrary(repo), ch, fb, mets)
	mgr.RegisterPeer(Peer{ID: "sys-b"})

	networkBefore := testutil.ToFloat64(mets.PackagesSent.WithLabelValues("network"))
	fallbackBefore := testutil.ToFloat64(mets.PackagesSent.WithLabelValues("fallback"))
	dropBefore := testutil.ToFloat64(mets.DeliveryFallback)

	require.NoError(t, mgr.SendPackage(context.Background(), messages.NewTransferPackage("sys-a", "sys-b")))
	assert.Equal(t, networkBefore+1, testutil.ToFloat64(mets.PackagesSent.WithLabelValues("network")))
	assert.Equal(t, dropBefore, testutil.ToFloat64(mets.DeliveryFallback))

	ch.err = errors.New("broker down")
	require.NoError(t, mgr.SendPackage(context.Background(), messages.NewTransferPackage("sys-a", "sys-b")))
	assert.Equal(t, fallbackBefore+1, testutil.ToFloat64(mets.PackagesSent.WithLabelValues("fallback")))
	assert.Equal(t, dropBefore+1, testutil.ToFloat64(mets.DeliveryFallback))
}

func TestReceivePackage_RejectsIncompatibleVersion(t *testing.T) {
	mgr, _, _, _ := newManager(t, nil)

	pkg := messages.NewTransferPackage("sys-b", "sys-a")
	pkg.Version = "2.0.0"
	err := mgr.ReceivePackage(pkg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestReceivePackage_AcceptsNewerMinorVersion(t *testing.T) {
	mgr, _, _, _ := newManager(t, nil)

	pkg := messages.NewTransferPackage("sys-b", "sys-a")
	pkg.Version = "1.3.0"
	assert.NoError(t, mgr.ReceivePackage(pkg))
}

func TestReceivePackage_AdaptsSolutionsAndLearnings(t *testing.T) {
	mgr, repo, _, _ := newManager(t, nil)

	sol := models.NewSolution("ch-remote", "remote fix", "", models.Implementation{}, 0.8)
	learning := &models.Learning{
		ID:            "learn-remote",
		ChallengeID:   "ch-remote",
		SolutionID:    sol.ID,
		ChallengeType: models.ChallengeTypePerformance,
		Severity:      models.SeverityHigh,
		Outcome:       models.OutcomeSuccess,
	}

	pkg := messages.NewTransferPackage("sys-b", "sys-a")
	pkg.Solutions = []*models.Solution{sol}
	pkg.Learnings = []*models.Learning{learning}
	require.NoError(t, mgr.ReceivePackage(pkg))

	sols := repo.SolutionsByChallenge("ch-remote")
	require.Len(t, sols, 1)
	assert.NotEqual(t, sol.ID, sols[0].ID, "adapted solutions get fresh ids")
	assert.InDelta(t, 0.8*adaptationPenalty, sols[0].Confidence, 1e-9)

	learnings := repo.Learnings()
	require.Len(t, learnings, 1)
	assert.True(t, learnings[0].Transferred)
	assert.Equal(t, sols[0].ID, learnings[0].SolutionID, "learnings follow the remapped solution")
}

func TestReceivePackage_MergesMatchingPattern(t *testing.T) {
	mgr, _, lib, _ := newManager(t, nil)

	local := models.NewPattern("performance-high-remediation", models.ChallengeTypePerformance,
		models.TriggerCondition{}, models.SolutionTemplate{Steps: []string{"scale"}}, 0.6)
	local.UsageCount = 4
	require.NoError(t, lib.Register(local))

	incoming := models.NewPattern("performance-high-remediation", models.ChallengeTypePerformance,
		models.TriggerCondition{}, models.SolutionTemplate{Steps: []string{"scale"}}, 0.9)
	incoming.UsageCount = 6

	pkg := messages.NewTransferPackage("sys-b", "sys-a")
	pkg.Patterns = []*models.Pattern{incoming}
	require.NoError(t, mgr.ReceivePackage(pkg))

	require.Len(t, lib.All(), 1)
	merged, err := lib.Get(local.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, merged.UsageCount)
	// Usage-weighted average: (0.6*4 + 0.9*6) / 10
	assert.InDelta(t, 0.78, merged.SuccessRate, 1e-9)
}

func TestReceivePackage_InsertsUnknownPattern(t *testing.T) {
	mgr, _, lib, _ := newManager(t, nil)

	incoming := models.NewPattern("error-saturation-remediation", models.ChallengeTypeError,
		models.TriggerCondition{}, models.SolutionTemplate{Steps: []string{"restart"}}, 0.85)

	pkg := messages.NewTransferPackage("sys-b", "sys-a")
	pkg.Patterns = []*models.Pattern{incoming}
	require.NoError(t, mgr.ReceivePackage(pkg))

	got, err := lib.Get(incoming.ID)
	require.NoError(t, err)
	assert.Equal(t, "error-saturation-remediation", got.Name)
}

func TestFallbackInboxIngestion(t *testing.T) {
	mgr, repo, _, root := newManager(t, nil)
	inbox := filepath.Join(root, "inbox")

	sol := models.NewSolution("ch-remote", "remote fix", "", models.Implementation{}, 0.8)
	pkg := messages.NewTransferPackage("sys-b", "sys-a")
	pkg.Solutions = []*models.Solution{sol}

	// Pre-existing files are drained when the watch starts.
	writePackageFile(t, inbox, "drop.json", pkg)

	fb, err := NewFallback(filepath.Join(root, "outbox2"), inbox)
	require.NoError(t, err)
	t.Cleanup(fb.Close)
	require.NoError(t, fb.Watch(mgr.ReceivePackage))

	assert.Eventually(t, func() bool {
		return len(repo.SolutionsByChallenge("ch-remote")) == 1
	}, 2*time.Second, 20*time.Millisecond)

	_, err = os.Stat(filepath.Join(inbox, "drop.json"))
	assert.True(t, os.IsNotExist(err), "ingested files are removed")
}

func TestFallbackRejectsIncompatibleDrop(t *testing.T) {
	mgr, _, _, root := newManager(t, nil)
	inbox := filepath.Join(root, "inbox")

	pkg := messages.NewTransferPackage("sys-b", "sys-a")
	pkg.Version = "9.0.0"
	writePackageFile(t, inbox, "bad.json", pkg)

	fb, err := NewFallback(filepath.Join(root, "outbox2"), inbox)
	require.NoError(t, err)
	t.Cleanup(fb.Close)
	require.NoError(t, fb.Watch(mgr.ReceivePackage))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(inbox, "bad.json.rejected"))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func writePackageFile(t *testing.T, dir, name string, pkg *messages.TransferPackage) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(pkg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}
