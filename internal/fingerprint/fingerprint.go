// Package fingerprint derives stable content fingerprints from web pages.
// The pipeline strips bot-protection interstitials, volatile markup, and
// textual noise (dates, session ids, countdowns) so that two fetches of an
// unchanged page hash identically even when cosmetic junk differs.
package fingerprint

// Current fingerprint generation identifiers.
const (
	Version   = "v2.0"
	Algorithm = "weighted_semantic_v2"
)

// Identifiers applied to fingerprints reconstructed from pre-2.0 store
// files, which carried only a bare hash.
const (
	LegacyVersion   = "legacy"
	LegacyAlgorithm = "weighted_semantic"
)

// Fingerprint is a stable hash plus structural tag profile derived from a
// noise-stripped page.
type Fingerprint struct {
	Hash               string             `json:"hash"`
	Version            string             `json:"version"`
	Algorithm          string             `json:"algorithm"`
	ContentWeights     map[string]float64 `json:"content_weights"`
	StructureSignature string             `json:"structure_signature"`
}

// NewLegacy wraps a bare hash from an old-format store file in a
// Fingerprint marked with the legacy identifiers.
func NewLegacy(hash string) *Fingerprint {
	return &Fingerprint{
		Hash:           hash,
		Version:        LegacyVersion,
		Algorithm:      LegacyAlgorithm,
		ContentWeights: map[string]float64{},
	}
}

// Equal reports whether two fingerprints carry the same hash. A nil
// fingerprint never equals anything.
func (f *Fingerprint) Equal(other *Fingerprint) bool {
	if f == nil || other == nil {
		return false
	}
	return f.Hash == other.Hash
}
