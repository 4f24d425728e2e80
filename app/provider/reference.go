package provider

import (
	"strings"

	"github.com/google/uuid"
)

const (
	referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referenceDigits   = "0123456789"
)

type intSource interface {
	Intn(n int) int
}

// ExternalReference builds a provider-styled reference. The format is only
// cosmetic; transaction identity is the settlement transaction id.
func (d *Definition) ExternalReference(random intSource) string {
	switch strings.ToLower(d.ReferenceFormat) {
	case "uuid":
		return d.ReferencePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	case "numeric":
		return d.ReferencePrefix + randomString(random, referenceDigits, 12)
	default:
		return d.ReferencePrefix + randomString(random, referenceAlphabet, 16)
	}
}

func randomString(random intSource, alphabet string, n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[random.Intn(len(alphabet))])
	}
	return b.String()
}
