package messages

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/mend/pkg/models"
)

// CompatibilityVersion is the transfer wire format version stamped on every
// outgoing package. Receivers reject packages whose major version differs.
const CompatibilityVersion = "1.0.0"

// TransferPackage is a versioned, immutable bundle of knowledge destined for
// one peer instance. The contents are deep copies; the package never shares
// memory with the controller or learning engine.
type TransferPackage struct {
	ID           string              `json:"id"`
	SourceSystem string              `json:"source_system"`
	TargetSystem string              `json:"target_system"`
	Version      string              `json:"version"` // semantic compatibility version
	CreatedAt    time.Time           `json:"created_at"`
	Challenges   []*models.Challenge `json:"challenges,omitempty"`
	Solutions    []*models.Solution  `json:"solutions,omitempty"`
	Learnings    []*models.Learning  `json:"learnings,omitempty"`
	Patterns     []*models.Pattern   `json:"patterns,omitempty"`
}

// NewTransferPackage creates an empty package addressed to target.
func NewTransferPackage(source, target string) *TransferPackage {
	return &TransferPackage{
		ID:           "pkg-" + uuid.New().String(),
		SourceSystem: source,
		TargetSystem: target,
		Version:      CompatibilityVersion,
		CreatedAt:    time.Now(),
	}
}

// MajorVersion extracts the major component of a semantic version string.
func MajorVersion(version string) string {
	if i := strings.Index(version, "."); i >= 0 {
		return version[:i]
	}
	return version
}

// Compatible reports whether a package version can be accepted by a receiver
// at the given local version. Only the major component must match.
func Compatible(packageVersion, localVersion string) bool {
	return MajorVersion(packageVersion) == MajorVersion(localVersion)
}
