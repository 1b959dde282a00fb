package engine

import (
	"fmt"
	"strings"

	"certdesk/internal/domain"
	"certdesk/internal/store"
)

const (
	certPrefix      = "CERT"
	trainingPrefix  = "CERT-TRAIN"
	documentPrefix  = "DOC"
	stickerPrefix   = "STK"
	jobOrderPrefix  = "JO"
	notificationSep = "|"
)

type certNumbers struct {
	Certificate string
	Document    string
	Sticker     string
}

func (n certNumbers) VerificationCode() string {
	return n.Document + "-" + n.Sticker + "-" + n.Certificate
}

func numbersFor(prefix string, year, seq int) certNumbers {
	return certNumbers{
		Certificate: fmt.Sprintf("%s-%d-%03d", prefix, year, seq),
		Document:    fmt.Sprintf("%s-%d-%03d", documentPrefix, year, seq),
		Sticker:     fmt.Sprintf("%s-%d-%03d", stickerPrefix, year, seq),
	}
}

// allocateNumbers takes the next ordinal from the certificate collection
// size, skipping ordinals whose numbers are already issued. Certificates
// appended earlier in the same transaction advance the ordinal.
func allocateNumbers(st *store.State, prefix string, year int) certNumbers {
	taken := make(map[string]bool, len(st.Certificates)*2)
	for _, c := range st.Certificates {
		taken[c.CertificateNumber] = true
		taken[c.DocumentNumber] = true
	}
	for seq := len(st.Certificates) + 1; ; seq++ {
		n := numbersFor(prefix, year, seq)
		if !taken[n.Certificate] && !taken[n.Document] {
			return n
		}
	}
}

// nextJobOrderID returns JO-<year><count+1>, bumped past existing ids.
func nextJobOrderID(jobs []domain.JobOrder, year int) string {
	taken := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		taken[j.ID] = true
	}
	for seq := len(jobs) + 1; ; seq++ {
		id := fmt.Sprintf("%s-%d%03d", jobOrderPrefix, year, seq)
		if !taken[id] {
			return id
		}
	}
}

// CanonicalCertificateNumber extracts the certificate number from either a
// bare number or a composite verification code.
func CanonicalCertificateNumber(query string) string {
	q := strings.ToUpper(strings.TrimSpace(query))
	if i := strings.Index(q, certPrefix+"-"); i > 0 {
		return q[i:]
	}
	return q
}
